// Package submit re-injects the rewritten message into Postfix through the
// local sendmail binary.
package submit

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"

	"github.com/uatmail/verp-filter/outcome"
)

// Sendmail invokes a sendmail-compatible binary once per message:
//
//	sendmail -G -i -f <envelope-sender> <recipient>
//
// -G marks gateway submission so no further rewriting happens downstream,
// -i keeps a lone dot from terminating the input. The message is streamed
// to stdin; exit status zero is the only success signal.
type Sendmail struct {
	// Path to the binary, e.g. /usr/sbin/sendmail.
	Path   string
	Logger *slog.Logger
}

func New(path string, logger *slog.Logger) *Sendmail {
	return &Sendmail{Path: path, Logger: logger}
}

// Submit runs the binary and waits for it. Launch failures and non-zero
// exits both classify as SubmissionFailure: the caller defers the mail and
// Postfix retries later. Submit must be called at most once per filter
// run; it is the one irrevocable action of the whole process.
func (s *Sendmail) Submit(ctx context.Context, from, to string, raw []byte) error {
	cmd := exec.CommandContext(ctx, s.Path, "-G", "-i", "-f", from, to)
	cmd.Stdin = bytes.NewReader(raw)

	output := &bytes.Buffer{}
	cmd.Stdout = output
	cmd.Stderr = output

	if s.Logger != nil {
		s.Logger.Debug("invoking sendmail", "path", s.Path, "from", from, "to", to, "bytes", len(raw))
	}

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		if s.Logger != nil {
			s.Logger.Error("sendmail failed", "path", s.Path, "from", from, "to", to,
				"exitCode", exitCode, "output", output.String(), "err", err)
		}
		return outcome.Errorf(outcome.KindSubmission, "sendmail %s (exit %d): %w - %q", s.Path, exitCode, err, output.String())
	}

	if s.Logger != nil {
		s.Logger.Debug("sendmail accepted message", "from", from, "to", to, "output", output.String())
	}
	return nil
}
