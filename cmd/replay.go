package cmd

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uatmail/verp-filter/config"
	"github.com/uatmail/verp-filter/filter"
	"github.com/uatmail/verp-filter/headers"
	"github.com/uatmail/verp-filter/mbox"
	"github.com/uatmail/verp-filter/model"
	"github.com/uatmail/verp-filter/outcome"
	"github.com/uatmail/verp-filter/progress"
	"github.com/uatmail/verp-filter/state"
	"github.com/uatmail/verp-filter/stats"
)

var (
	replayDryRun   bool
	replayStateDir string
	replayFrom     string
	replayTo       string
)

var replayCmd = &cobra.Command{
	Use:   "replay [mbox file]",
	Short: "Push archived messages through the tagging pipeline",
	Long: `Streams messages out of an mbox archive (for example a queue export
taken while the filter was misconfigured) and runs each one through the
same tag, record and resubmit pipeline the filter applies to live mail.

The envelope is reconstructed from the Return-Path and Delivered-To
headers unless overridden with --from/--to. Resubmitted messages are
remembered in a state file so an interrupted replay can be resumed
without double-sending.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromCommand(cmd)
		if err != nil {
			return err
		}

		logger, cleanup := setupLogger(cfg, true)
		defer cleanup()

		return runReplay(cmd, cfg, logger, args[0])
	},
}

func init() {
	config.RegisterFlags(replayCmd)
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Log decisions without writing records or resubmitting")
	replayCmd.Flags().StringVar(&replayStateDir, "state-dir", "", "Directory for the resubmission dedupe state (default ~/.verp-filter/state)")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Envelope sender override for every message")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "Envelope recipient override for every message")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, cfg config.Config, logger *slog.Logger, path string) error {
	stateDir := replayStateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve state directory: %w", err)
		}
		stateDir = filepath.Join(home, ".verp-filter", "state")
	}

	// Dry runs must not poison the dedupe state.
	tracker, err := state.NewFileTracker(stateDir, !replayDryRun)
	if err != nil {
		return fmt.Errorf("state tracker: %w", err)
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Warn("error closing state file", "err", err)
		}
	}()

	total, err := mbox.Count(path)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	logger.Info("starting replay", "mbox", path, "messages", total, "dryRun", replayDryRun)

	collector := stats.NewCollector()
	bar := progress.New(total, cfg.LogLevel)
	defer bar.Stop()

	pipeline := filter.New(cfg, filter.Options{DryRun: replayDryRun}, logger)

	walkErr := mbox.Walk(path, func(idx int, raw []byte, readErr error) error {
		defer bar.Increment()

		if readErr != nil {
			collector.Error(readErr)
			logger.Error("skipping unreadable message", "index", idx, "err", readErr)
			return nil
		}
		collector.Scanned()

		sender, recipient := headers.Envelope(raw)
		if replayFrom != "" {
			sender = replayFrom
		}
		if replayTo != "" {
			recipient = replayTo
		}
		if sender == "" || recipient == "" {
			collector.NoEnvelope()
			logger.Warn("no envelope recoverable from headers", "index", idx, "from", sender, "to", recipient)
			return nil
		}
		sender = strings.ToLower(sender)

		sum := sha256.Sum256(raw)
		hash := base64.StdEncoding.EncodeToString(sum[:])
		if tracker.AlreadyResubmitted(hash) {
			collector.Skipped()
			logger.Debug("already resubmitted in an earlier replay", "index", idx, "hash", hash)
			return nil
		}

		msg := model.Message{Sender: sender, Recipient: recipient, Raw: raw}
		res, err := pipeline.Process(cmd.Context(), msg)
		if err != nil {
			collector.Error(err)
			// An unavailable store will fail every remaining message too.
			if outcome.KindOf(err) == outcome.KindStoreUnavailable {
				return err
			}
			logger.Error("replay of message failed", "index", idx, "from", sender, "to", recipient, "err", err)
			return nil
		}

		if res.Tagged {
			collector.Tagged()
		} else {
			collector.PassThrough()
		}

		if replayDryRun {
			collector.DryRun()
			return nil
		}

		collector.Resubmitted()
		if err := tracker.MarkResubmitted(hash, sender+" -> "+recipient); err != nil {
			return fmt.Errorf("mark resubmitted: %w", err)
		}
		return nil
	})

	bar.Stop()

	summary := collector.Snapshot()
	logger.Info("replay finished", summary.LogAttrs()...)

	if walkErr != nil {
		return walkErr
	}
	if summary.Errors > 0 {
		return fmt.Errorf("%d of %d messages failed, see log", summary.Errors, total)
	}
	return nil
}
