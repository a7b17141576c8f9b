package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/store"
)

var (
	runsDate   string
	runsStatus string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List slot runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Date:   runsDate,
			Status: model.RunStatus(runsStatus),
			Limit:  runsLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsDate, "date", "", "filter by date YYYY-MM-DD")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (running|succeeded|failed)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum rows")
	rootCmd.AddCommand(runsCmd)
}
