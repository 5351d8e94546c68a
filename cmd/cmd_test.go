package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig creates a config file that keeps state in a temp dir.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
log_level = "ERROR"

[storage]
backend = "file"
dir = %q

[settings]
pbkdf2_iterations = 1000
`, dir)
	path := filepath.Join(dir, "pinguard.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PINGUARD_PASSPHRASE", "")
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores every flag to its default so runs do not leak into
// each other through the shared command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestReportCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, "report", "call", "--config", cfg, "--lat", "12.9716", "--lng", "77.5946")
	require.NoError(t, err)
	assert.Contains(t, out, "Launching call report")
	assert.Contains(t, out, "12.97160,77.59460")

	_, err = execute(t, "report", "sms", "--config", cfg, "--lat", "1", "--lng", "1")
	assert.ErrorContains(t, err, "report denied: Please wait")

	out, err = execute(t, "status", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "1/3")

	out, err = execute(t, "reset", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "cooldowns: true, anti-spam: true")

	_, err = execute(t, "report", "sms", "--config", cfg, "--lat", "1", "--lng", "1")
	assert.NoError(t, err)
}

func TestReportCommandUnknownChannel(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := execute(t, "report", "pager", "--config", cfg, "--lat", "1", "--lng", "1")
	assert.ErrorContains(t, err, `Unknown channel "pager"`)
}

func TestSettingsCommands(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := execute(t, "settings", "show", "--config", cfg)
	assert.ErrorContains(t, err, "passphrase is required")

	out, err := execute(t, "settings", "enroll", "--config", cfg, "--passphrase", "s3cret")
	require.NoError(t, err)
	assert.Contains(t, out, "enrolled")

	_, err = execute(t, "settings", "enroll", "--config", cfg, "--passphrase", "s3cret")
	assert.Error(t, err)

	out, err = execute(t, "settings", "set", "channels.whatsapp", "true", "--config", cfg, "--passphrase", "s3cret")
	require.NoError(t, err)
	assert.Contains(t, out, "Set channels.whatsapp = true")

	out, err = execute(t, "settings", "show", "--config", cfg, "--passphrase", "s3cret")
	require.NoError(t, err)
	assert.Contains(t, out, `"whatsapp": true`)

	_, err = execute(t, "settings", "unlock-check", "--config", cfg, "--passphrase", "wrong")
	assert.ErrorContains(t, err, "wrong passphrase")

	_, err = execute(t, "settings", "set", "geofence_km", "500", "--config", cfg, "--passphrase", "s3cret")
	assert.ErrorContains(t, err, "geofence_km")

	// The enabled channel applies to reports once unlocked.
	_, err = execute(t, "report", "whatsapp", "--config", cfg, "--passphrase", "s3cret", "--lat", "3", "--lng", "3")
	assert.NoError(t, err)
}

func TestStatusCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, "status", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "call")
	assert.Contains(t, out, "0/3")
	assert.NotContains(t, out, "allowed")

	out, err = execute(t, "status", "--config", cfg, "--lat", "12.9716", "--lng", "77.5946")
	require.NoError(t, err)
	assert.Contains(t, out, "allowed")

	_, err = execute(t, "report", "sms", "--config", cfg, "--lat", "12.9716", "--lng", "77.5946")
	require.NoError(t, err)

	out, err = execute(t, "status", "--config", cfg, "--lat", "12.9716", "--lng", "77.5946")
	require.NoError(t, err)
	assert.Contains(t, out, "Please wait")
	assert.Contains(t, out, "1/3")
	assert.NotContains(t, out, "allowed")

	// Without a pin the guard column stays empty again.
	out, err = execute(t, "status", "--config", cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, "Please wait")
}

func TestResetCommandFlags(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := execute(t, "report", "call", "--config", cfg, "--lat", "1", "--lng", "1")
	require.NoError(t, err)

	out, err := execute(t, "reset", "--config", cfg, "--cooldowns")
	require.NoError(t, err)
	assert.Contains(t, out, "cooldowns: true, anti-spam: false")

	// The global lock survives a cooldown-only reset.
	_, err = execute(t, "report", "call", "--config", cfg, "--lat", "1", "--lng", "1")
	assert.ErrorContains(t, err, "Please wait")

	out, err = execute(t, "reset", "--config", cfg, "--anti-spam")
	require.NoError(t, err)
	assert.Contains(t, out, "cooldowns: false, anti-spam: true")

	_, err = execute(t, "report", "call", "--config", cfg, "--lat", "1", "--lng", "1")
	require.NoError(t, err)

	out, err = execute(t, "reset", "--config", cfg, "--cooldowns", "--anti-spam")
	require.NoError(t, err)
	assert.Contains(t, out, "cooldowns: true, anti-spam: true")

	out, err = execute(t, "status", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "0/3")
}

func TestReportIgnoresBadPassphrase(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := execute(t, "settings", "enroll", "--config", cfg, "--passphrase", "s3cret")
	require.NoError(t, err)

	out, err := execute(t, "report", "call", "--config", cfg, "--passphrase", "wrong", "--lat", "1", "--lng", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Launching call report")

	_, err = execute(t, "status", "--config", cfg, "--passphrase", "wrong")
	assert.NoError(t, err)

	_, err = execute(t, "settings", "show", "--config", cfg, "--passphrase", "wrong")
	assert.Error(t, err)
}
