package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	resetCooldowns bool
	resetAntiSpam  bool
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear stored cooldowns and anti-spam state",
	Long: `Deletes cooldown records for every channel and/or every anti-spam record
(global lock, cell locks, daily counters). With neither flag both are cleared.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, unlockLenient)
		if err != nil {
			return err
		}
		defer a.close()

		cooldowns, antiSpam := resetCooldowns, resetAntiSpam
		if !cooldowns && !antiSpam {
			cooldowns, antiSpam = true, true
		}
		a.gate.Reset(ctx, cooldowns, antiSpam)
		fmt.Fprintf(cmd.OutOrStdout(), "Reset complete (cooldowns: %t, anti-spam: %t).\n", cooldowns, antiSpam)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&resetCooldowns, "cooldowns", false, "clear cooldown records")
	resetCmd.Flags().BoolVar(&resetAntiSpam, "anti-spam", false, "clear anti-spam records")
}
