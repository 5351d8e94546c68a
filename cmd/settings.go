package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kyleseneker/pinguard/internal/settings"
)

// settingsCmd groups the admin settings subcommands.
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage the encrypted admin settings",
	Long: `The admin settings document switches channels on or off, holds the message
templates and can override cooldown and anti-spam thresholds from the config
file. It is stored encrypted and needs the admin passphrase (--passphrase or
PINGUARD_PASSPHRASE).`,
}

var settingsEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Set the admin passphrase and store the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pass := effectivePassphrase()
		if pass == "" {
			return errors.New("a passphrase is required (--passphrase or PINGUARD_PASSPHRASE)")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.settings.Enroll(ctx, a.session, pass); err != nil {
				return err
			}
			if err := a.provider.Update(ctx, a.session, settings.DefaultDocument()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Admin passphrase enrolled.")
			return nil
		})
	},
}

var settingsUnlockCheckCmd = &cobra.Command{
	Use:   "unlock-check",
	Short: "Verify the admin passphrase",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedApp(cmd, func(ctx context.Context, a *app) error {
			fmt.Fprintln(cmd.OutOrStdout(), "Passphrase accepted.")
			return nil
		})
	},
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the admin settings document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedApp(cmd, func(ctx context.Context, a *app) error {
			data, err := json.MarshalIndent(a.provider.Current(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Change one field of the admin settings document",
	Long: `Changes one field and saves the document. Threshold overrides accept
'default' to fall back to the config file value.

Fields: ` + strings.Join(settings.Fields(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUnlockedApp(cmd, func(ctx context.Context, a *app) error {
			doc := a.provider.Current()
			if err := doc.SetField(args[0], args[1]); err != nil {
				return err
			}
			if err := a.provider.Update(ctx, a.session, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsEnrollCmd, settingsUnlockCheckCmd, settingsShowCmd, settingsSetCmd)
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, unlockStrict)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

// withUnlockedApp fails unless the passphrase unlocked the settings.
func withUnlockedApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	if effectivePassphrase() == "" {
		return errors.New("a passphrase is required (--passphrase or PINGUARD_PASSPHRASE)")
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if a.session.State() != settings.Unlocked {
			return settings.ErrNotEnrolled
		}
		return fn(ctx, a)
	})
}
