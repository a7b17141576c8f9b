package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fundradar/radar/internal/model"
)

var (
	digestDate string
	digestSend bool
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Generate (or regenerate) the daily digest for a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		date := digestDate
		if date == "" {
			date = model.DateOf(time.Now())
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return eris.Errorf("invalid date %q, want YYYY-MM-DD", date)
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		d, err := e.digester.Generate(ctx, date)
		if err != nil {
			return err
		}

		if digestSend {
			settings, err := e.store.GetSettings(ctx)
			if err != nil {
				return err
			}
			if err := e.notifier.SendDailyReport(ctx, date, model.LastSlot(settings.Slots), d.Markdown); err != nil {
				return err
			}
		}

		os.Stdout.WriteString(d.Markdown)
		os.Stdout.WriteString("\n")
		return nil
	},
}

func init() {
	digestCmd.Flags().StringVar(&digestDate, "date", "", "date YYYY-MM-DD (default today)")
	digestCmd.Flags().BoolVar(&digestSend, "send", false, "also deliver the digest to the webhook")
	rootCmd.AddCommand(digestCmd)
}
