package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Used for flags.
	cfgFile    string
	passphrase string

	rootCmd = &cobra.Command{
		Use:   "pinguard",
		Short: "Throttling and anti-abuse gate for pin-on-map emergency reports",
		Long: `pinguard decides whether an emergency report pinned on a map may be
launched on a channel (call, sms, whatsapp, email). It enforces a per-channel
cooldown, a global lockout after any report, duplicate suppression for the same
map cell and daily caps. Thresholds come from the config file and from an
encrypted admin settings document unlocked with a passphrase.`,
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Define flags persistent across all commands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pinguard/pinguard.toml or ./pinguard.toml)")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "admin passphrase (or set PINGUARD_PASSPHRASE)")
}
