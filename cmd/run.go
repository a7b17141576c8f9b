package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fundradar/radar/internal/registry"
)

var (
	runSlot   string
	runManual bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one slot of the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		slot := runSlot
		if slot == "" {
			slot = nearestSlot(time.Now())
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.orch.ExecuteSlot(ctx, slot, runManual)
		if err != nil {
			if eris.Is(err, registry.ErrRunInProgress) {
				return eris.New("another run is in progress, try again later")
			}
			return err
		}

		out, _ := json.MarshalIndent(res.Run, "", "  ")
		os.Stdout.Write(out)
		os.Stdout.WriteString("\n")
		return nil
	},
}

// nearestSlot picks the latest configured slot at or before the wall
// clock, falling back to the first slot before the day's schedule
// starts.
func nearestSlot(now time.Time) string {
	slots := cfg.Radar.Slots
	if len(slots) == 0 {
		return now.Format("15:04")
	}
	label := now.Format("15:04")
	best := ""
	for _, s := range slots {
		if s <= label && s > best {
			best = s
		}
	}
	if best == "" {
		best = slots[0]
	}
	return best
}

func init() {
	runCmd.Flags().StringVar(&runSlot, "slot", "", "slot label HH:MM (default: nearest past slot)")
	runCmd.Flags().BoolVar(&runManual, "manual", false, "treat as manual trigger (blocked while another run executes)")
	rootCmd.AddCommand(runCmd)
}
