// Package cmd wires the verp-filter commands. The root command is the
// Postfix content filter itself; everything else is operator tooling.
package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/uatmail/verp-filter/config"
	"github.com/uatmail/verp-filter/filter"
	"github.com/uatmail/verp-filter/model"
	"github.com/uatmail/verp-filter/outcome"
)

var rootCmd = &cobra.Command{
	Use:   "verp-filter",
	Short: "Postfix content filter that VERP-tags outbound envelope senders",
	Long: `verp-filter rewrites the envelope sender of outbound mail to embed a
time-stamped VERP token, records the token alongside the original sender,
recipient and subject in a SQLite database, and re-injects the message via
sendmail. Postfix invokes it from a pipe transport as:

  verp-filter -f ${sender} -- ${recipient}

Exit status: 0 accepted, 69 hard bounce (bad arguments), 75 defer (store
or submission failure).`,
	// Postfix owns the argv layout, so the filter path must not let cobra
	// interpret -f and -- as flags or reject them as unknown subcommands.
	DisableFlagParsing: true,
	Args:               cobra.ArbitraryArgs,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFilter()
	},
}

// Execute runs the CLI. The caller maps the returned error to an exit
// status via outcome.ExitCode.
func Execute() error {
	return rootCmd.Execute()
}

func runFilter() error {
	cfg, err := config.Load("")
	if err != nil {
		// A broken config push must defer mail, not bounce it.
		return outcome.Errorf(outcome.KindInputRead, "load config: %w", err)
	}

	logger, cleanup := setupLogger(cfg, false)
	defer cleanup()

	// The full argv is logged before parsing so a bad pipe transport
	// configuration can be diagnosed from the log alone.
	logger.Debug("filter invoked", "argv", os.Args)

	sender, recipient, err := filter.ParseArgs(os.Args)
	if err != nil {
		logger.Error("invalid invocation", "argv", os.Args, "err", err)
		return err
	}
	logger.Debug("envelope parsed", "from", sender, "to", recipient)

	raw, err := filter.ReadMessage(os.Stdin)
	if err != nil {
		logger.Error("error reading message from stdin", "err", err)
		return err
	}

	pipeline := filter.New(cfg, filter.Options{}, logger)
	msg := model.Message{Sender: sender, Recipient: recipient, Raw: raw}
	if _, err := pipeline.Process(context.Background(), msg); err != nil {
		return err
	}
	return nil
}

// setupLogger opens the append-only log file from the config. When the
// file cannot be opened the filter must still run, so it falls back to
// stderr; stdout stays clean because Postfix captures it.
func setupLogger(cfg config.Config, alsoStdout bool) (*slog.Logger, func()) {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: level}

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		logger.Warn("cannot open log file, logging to stderr", "logFile", cfg.LogFile, "err", err)
		return logger, func() {}
	}

	var w io.Writer = file
	if alsoStdout {
		w = io.MultiWriter(os.Stdout, file)
	}
	logger := slog.New(slog.NewTextHandler(w, opts))
	return logger, func() {
		_ = file.Close()
	}
}
