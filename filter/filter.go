// Package filter runs the pipeline Postfix pipes each outbound message
// through: decide on tagging, record the correlation, resubmit.
package filter

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/uatmail/verp-filter/config"
	"github.com/uatmail/verp-filter/headers"
	"github.com/uatmail/verp-filter/model"
	"github.com/uatmail/verp-filter/outcome"
	"github.com/uatmail/verp-filter/store"
	"github.com/uatmail/verp-filter/submit"
	"github.com/uatmail/verp-filter/verp"
)

// Postfix argv positions per the pipe transport configuration
// `argv=verp-filter -f ${sender} -- ${recipient}`: counting the program
// name as position 0, the sender sits at position 2 and the recipient at
// position 4.
const (
	argvSender    = 2
	argvRecipient = 4
)

// Submitter hands a message to the outbound submission interface.
type Submitter interface {
	Submit(ctx context.Context, from, to string, raw []byte) error
}

// ParseArgs extracts the envelope from the full argv (program name
// included). The sender is normalized to lowercase; the recipient is not.
func ParseArgs(argv []string) (sender, recipient string, err error) {
	if len(argv) <= argvRecipient {
		return "", "", outcome.Errorf(outcome.KindInvalidInvocation, "need sender at argv[%d] and recipient at argv[%d], got %d args: %q",
			argvSender, argvRecipient, len(argv), argv)
	}
	sender = strings.ToLower(argv[argvSender])
	recipient = argv[argvRecipient]
	if sender == "" || recipient == "" {
		return "", "", outcome.Errorf(outcome.KindInvalidInvocation, "empty sender or recipient in argv %q", argv)
	}
	return sender, recipient, nil
}

// ReadMessage drains the message from r. The whole message is held in
// memory; bounding large messages is a deployment concern, not ours.
func ReadMessage(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, outcome.Errorf(outcome.KindInputRead, "read message: %w", err)
	}
	return raw, nil
}

// Options control pipeline behavior beyond the config file.
type Options struct {
	// DryRun computes decisions and logs them without writing the store
	// or invoking sendmail. Used by replay.
	DryRun bool
}

type Pipeline struct {
	cfg       config.Config
	opts      Options
	logger    *slog.Logger
	submitter Submitter
	now       func() time.Time
}

func New(cfg config.Config, opts Options, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		submitter: submit.New(cfg.Sendmail, logger),
		now:       time.Now,
	}
}

// Result reports what the pipeline decided and did for one message.
type Result struct {
	// Tagged is false on the pass-through path.
	Tagged bool
	// EnvelopeSender is what the message was (or would be) resubmitted
	// with: the new tag, or the original sender on pass-through.
	EnvelopeSender string
	Subject        string
	// Recorded is true when the correlation insert committed.
	Recorded bool
}

// Process runs one message through the pipeline.
//
// On the tagging path the correlation record is written before
// resubmission, but the two are not atomic: a crash between them loses the
// record while the mail still goes out. That window is accepted; the
// reverse trade (mail loss) is not.
func (p *Pipeline) Process(ctx context.Context, msg model.Message) (Result, error) {
	var res Result

	if verp.IsTagged(msg.Sender, p.cfg.Marker) {
		res.EnvelopeSender = msg.Sender
		p.logger.Debug("sender already tagged, passing through", "sender", msg.Sender, "recipient", msg.Recipient)
	} else {
		res.Tagged = true
		res.EnvelopeSender = verp.New(p.cfg.Marker, msg.Sender, p.now())
		res.Subject = headers.Subject(msg.Raw)
		p.logger.Debug("starting outbound mail process",
			"sender", msg.Sender, "recipient", msg.Recipient, "verp", res.EnvelopeSender, "subject", res.Subject)

		if !p.opts.DryRun {
			recorded, err := p.record(ctx, msg, res.EnvelopeSender, res.Subject)
			if err != nil {
				// Store open failure: abort before any subprocess
				// invocation so Postfix defers and retries.
				return res, err
			}
			res.Recorded = recorded
		}
	}

	if p.opts.DryRun {
		p.logger.Info("dry run, skipping resubmission",
			"from", res.EnvelopeSender, "to", msg.Recipient, "tagged", res.Tagged)
		return res, nil
	}

	if err := p.submitter.Submit(ctx, res.EnvelopeSender, msg.Recipient, msg.Raw); err != nil {
		return res, err
	}

	p.logger.Info("message resubmitted",
		"from", res.EnvelopeSender, "to", msg.Recipient, "tagged", res.Tagged, "recorded", res.Recorded)
	return res, nil
}

// record opens the store, inserts the correlation row and closes again,
// strictly before resubmission so the database lock is never held across
// the sendmail call. An open failure is returned (the run aborts with
// tempfail); an insert or commit failure is logged and swallowed so the
// mail still goes out.
func (p *Pipeline) record(ctx context.Context, msg model.Message, tag, subject string) (bool, error) {
	st, err := store.Open(ctx, p.cfg.Database)
	if err != nil {
		p.logger.Error("error opening database", "database", p.cfg.Database, "err", err)
		return false, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			p.logger.Warn("error closing database", "err", err)
		}
	}()

	rec := store.Record{
		Verp:      tag,
		Sender:    verp.Detag(msg.Sender),
		Recipient: msg.Recipient,
		Subject:   subject,
	}
	if err := st.Insert(ctx, rec); err != nil {
		p.logger.Error("error inserting record", "verp", rec.Verp, "sender", rec.Sender, "err", err)
		return false, nil
	}

	p.logger.Debug("correlation record inserted", "verp", rec.Verp, "sender", rec.Sender,
		"recipient", rec.Recipient, "subject", rec.Subject)
	return true, nil
}
