package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kyleseneker/pinguard/internal/report"
)

var (
	reportLat             float64
	reportLng             float64
	reportCooldownSeconds int
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report <channel>",
	Short: "Submit a report on a channel for a pinned location",
	Long: `Runs the anti-spam guard and the channel cooldown for a report at the
given coordinates. When both allow it, the report is launched and recorded.

The launcher prints the report instead of opening a device-native channel.
The command exits non-zero when the report is denied.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Float64Var(&reportLat, "lat", 0, "pin latitude in decimal degrees")
	reportCmd.Flags().Float64Var(&reportLng, "lng", 0, "pin longitude in decimal degrees")
	reportCmd.Flags().IntVar(&reportCooldownSeconds, "cooldown-seconds", -1, "override the channel cooldown for this report")
	_ = reportCmd.MarkFlagRequired("lat")
	_ = reportCmd.MarkFlagRequired("lng")
}

// printLauncher writes the report to out.
type printLauncher struct {
	out io.Writer
}

func (l printLauncher) Launch(_ context.Context, req report.Request) error {
	_, err := fmt.Fprintf(l.out, "Launching %s report %s at %s\n  %s\n", req.Channel, req.ID, req.Pin, req.Message)
	return err
}

func runReport(cmd *cobra.Command, channel string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, unlockLenient)
	if err != nil {
		return err
	}
	defer a.close()

	var opts []report.SubmitOption
	if cmd.Flags().Changed("cooldown-seconds") && reportCooldownSeconds >= 0 {
		opts = append(opts, report.WithCooldownSeconds(reportCooldownSeconds))
	}

	out, err := a.gate.Submit(ctx, channel, report.Pin{Lat: reportLat, Lng: reportLng}, printLauncher{out: cmd.OutOrStdout()}, opts...)
	if err != nil {
		return err
	}
	if !out.Allowed {
		return fmt.Errorf("report denied: %s", out.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report %s sent. %s cooldown: %s\n", out.ID, out.Channel,
		formatCountdown(a, out.Remaining))
	return nil
}
