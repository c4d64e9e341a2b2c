package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/uatmail/verp-filter/config"
	"github.com/uatmail/verp-filter/store"
)

var (
	recordsLimit   int
	recordsBounced bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Show recent correlation records",
	Long: `Read-only view of the mails table: the most recent correlation
records and bounce counts. Updates to bounce state are owned by the bounce
companion filter; this command never writes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromCommand(cmd)
		if err != nil {
			return err
		}

		st, err := store.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		totals, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}

		records, err := st.Recent(cmd.Context(), recordsLimit, recordsBounced)
		if err != nil {
			return err
		}

		data := pterm.TableData{{"VERP", "Sender", "Recipient", "Subject", "Bounced"}}
		for _, rec := range records {
			bounced := ""
			if rec.BounceTime > 0 {
				bounced = time.Unix(rec.BounceTime, 0).Format(time.RFC3339)
			}
			data = append(data, []string{rec.Verp, rec.Sender, rec.Recipient, rec.Subject, bounced})
		}

		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return fmt.Errorf("render table: %w", err)
		}

		fmt.Printf("\n%s records total, %s bounced\n",
			strconv.FormatInt(totals.Total, 10), strconv.FormatInt(totals.Bounced, 10))
		return nil
	},
}

func init() {
	config.RegisterFlags(recordsCmd)
	recordsCmd.Flags().IntVarP(&recordsLimit, "limit", "n", 20, "Maximum number of records to show")
	recordsCmd.Flags().BoolVar(&recordsBounced, "bounced", false, "Show only records with a recorded bounce")
	rootCmd.AddCommand(recordsCmd)
}
