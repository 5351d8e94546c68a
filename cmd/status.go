package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kyleseneker/pinguard/internal/config"
	"github.com/kyleseneker/pinguard/internal/cooldown"
	"github.com/kyleseneker/pinguard/internal/report"
)

var (
	statusLat   float64
	statusLng   float64
	statusWatch bool
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cooldowns, daily counts and guard decisions per channel",
	Long: `Prints one row per channel with its admin switch, remaining cooldown and
today's report count against the daily cap. With --lat and --lng the row also
shows whether a report at that location would pass the anti-spam guard.

With --watch the table refreshes every second until interrupted, and an
explicit --config file is re-read whenever it changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Float64Var(&statusLat, "lat", 0, "pin latitude to evaluate")
	statusCmd.Flags().Float64Var(&statusLng, "lng", 0, "pin longitude to evaluate")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "refresh every second and reload config on change")
}

func formatCountdown(a *app, d time.Duration) string {
	return cooldown.FormatRemaining(d, a.provider.Cooldown().UI.CountdownFormat)
}

func runStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, unlockLenient)
	if err != nil {
		return err
	}
	defer a.close()

	var pin *report.Pin
	if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
		pin = &report.Pin{Lat: statusLat, Lng: statusLng}
	}

	out := cmd.OutOrStdout()
	renderStatus(out, a.gate.Status(ctx, pin))
	if !statusWatch {
		return nil
	}

	if cfgFile == "" {
		a.logger.Warn("Live config reload needs an explicit --config file; watching state only.")
	} else {
		err := config.Watch(cfgFile, func(cfg *config.Config, err error) {
			if err != nil {
				a.logger.Warn("Ignoring invalid config change", "error", err)
				return
			}
			a.provider.SetBase(cfg)
			a.logger.Info("Configuration reloaded", "path", cfgFile)
		})
		if err != nil {
			return fmt.Errorf("error watching config: %w", err)
		}
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintf(out, "\n%s\n", time.Now().Format(time.TimeOnly))
			renderStatus(out, a.gate.Status(ctx, pin))
		case sig := <-signalChan:
			a.logger.Debug("Received signal, stopping watch", "signal", sig)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func renderStatus(out io.Writer, rows []report.ChannelStatus) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Channel", "Enabled", "Cooldown", "Today", "Guard"})
	table.SetBorder(false)

	for _, r := range rows {
		countdown := r.Countdown
		if r.Warn {
			countdown += " !"
		}
		daily := strconv.Itoa(r.DailyCount)
		if r.DailyCap > 0 {
			daily += "/" + strconv.Itoa(r.DailyCap)
		}
		guard := "-"
		if r.Decision != nil {
			guard = "allowed"
			if !r.Decision.Allowed {
				guard = r.Decision.Reason
			}
		}
		table.Append([]string{
			r.Channel.String(),
			strconv.FormatBool(r.Enabled),
			countdown,
			daily,
			guard,
		})
	}
	table.Render()
}
