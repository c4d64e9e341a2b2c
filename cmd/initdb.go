package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uatmail/verp-filter/config"
	"github.com/uatmail/verp-filter/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the correlation database and its mails schema",
	Long: `Creates the SQLite database the filter records correlations in. The
filter itself never creates the database: a missing file at delivery time
is treated as a transient store failure so the mail is deferred, not sent
untracked. Run this once when deploying.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromCommand(cmd)
		if err != nil {
			return err
		}

		logger, cleanup := setupLogger(cfg, true)
		defer cleanup()

		st, err := store.Create(cmd.Context(), cfg.Database, logger)
		if err != nil {
			return err
		}
		if err := st.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}

		logger.Info("correlation database ready", "database", cfg.Database)
		return nil
	},
}

func init() {
	config.RegisterFlags(initCmd)
	rootCmd.AddCommand(initCmd)
}
