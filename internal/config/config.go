package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/kyleseneker/pinguard/internal/action"
)

// PerActionCooldowns holds channel-specific cooldown durations.
type PerActionCooldowns struct {
	CallSeconds     int `mapstructure:"call_seconds"`
	SMSSeconds      int `mapstructure:"sms_seconds"`
	WhatsAppSeconds int `mapstructure:"whatsapp_seconds"`
	EmailSeconds    int `mapstructure:"email_seconds"`
}

// CooldownPersist controls where cooldown records live and how long they are honoured.
type CooldownPersist struct {
	UseLocalStorage            bool   `mapstructure:"use_local_storage"` // local (durable) or session area
	KeyPrefix                  string `mapstructure:"key_prefix"`
	PersistAcrossReloadMinutes int    `mapstructure:"persist_across_reload_minutes"` // 0 disables staleness eviction
	CleanupOnExpire            bool   `mapstructure:"cleanup_on_expire"`
}

// CooldownUI holds display settings used when reporting remaining time.
type CooldownUI struct {
	CountdownFormat      string `mapstructure:"countdown_format"` // "mm:ss" or "ss"
	WarnThresholdSeconds int    `mapstructure:"warn_threshold_seconds"`
	ToastMessageTemplate string `mapstructure:"toast_message_template"` // may contain {remaining}
}

// CooldownTestMode overrides every action duration when enabled.
type CooldownTestMode struct {
	Enabled                   bool `mapstructure:"enabled"`
	OverrideAllActionsSeconds int  `mapstructure:"override_all_actions_seconds"`
}

// CooldownDebug holds developer toggles.
type CooldownDebug struct {
	BypassWhenShowDebugPanel bool `mapstructure:"bypass_when_show_debug_panel"`
	LogTransitions           bool `mapstructure:"log_transitions"`
}

// CooldownConfig configures the per-action cooldown engine.
type CooldownConfig struct {
	Enabled                bool               `mapstructure:"enabled"`
	DefaultDurationSeconds int                `mapstructure:"default_duration_seconds"`
	PerAction              PerActionCooldowns `mapstructure:"per_action"`
	GracePeriodSeconds     int                `mapstructure:"grace_period_seconds"`
	Persist                CooldownPersist    `mapstructure:"persist"`
	UI                     CooldownUI         `mapstructure:"ui"`
	TestMode               CooldownTestMode   `mapstructure:"test_mode"`
	Debug                  CooldownDebug      `mapstructure:"debug"`
}

// DailyCaps holds the per-channel daily limits. 0 means unlimited.
type DailyCaps struct {
	Call     int `mapstructure:"call"`
	SMS      int `mapstructure:"sms"`
	WhatsApp int `mapstructure:"whatsapp"`
	Email    int `mapstructure:"email"`
}

// ForChannel returns the cap configured for ch. Unknown channels are unlimited.
func (c DailyCaps) ForChannel(ch action.Channel) int {
	switch ch {
	case action.Call:
		return c.Call
	case action.SMS:
		return c.SMS
	case action.WhatsApp:
		return c.WhatsApp
	case action.Email:
		return c.Email
	default:
		return 0
	}
}

// AntiSpamStorage selects the storage area and key namespace for the guard.
type AntiSpamStorage struct {
	UseLocalStorage bool   `mapstructure:"use_local_storage"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

// AntiSpamConfig configures the anti-spam guard.
type AntiSpamConfig struct {
	Enabled                  bool            `mapstructure:"enabled"`
	DuplicateWindowMinutes   int             `mapstructure:"duplicate_window_minutes"`
	CellSizeMeters           int             `mapstructure:"cell_size_meters"`
	PostActionLockoutSeconds int             `mapstructure:"post_action_lockout_seconds"`
	DailyCaps                DailyCaps       `mapstructure:"daily_caps"`
	Storage                  AntiSpamStorage `mapstructure:"storage"`
}

// StorageConfig selects the backend for the durable (local) storage area.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"` // "memory", "file", "sql" or "redis"
	Dir            string `mapstructure:"dir"`
	SQLDriver      string `mapstructure:"sql_driver"` // "postgres" or "sqlite3"
	DSN            string `mapstructure:"dsn"`
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	RedisNamespace string `mapstructure:"redis_namespace"`
}

// SettingsConfig configures the encrypted admin settings store.
type SettingsConfig struct {
	KeyPrefix               string        `mapstructure:"key_prefix"`
	PBKDF2Iterations        int           `mapstructure:"pbkdf2_iterations"`
	MaxFailedUnlocks        int           `mapstructure:"max_failed_unlocks"`
	UnlockBackoff           time.Duration `mapstructure:"unlock_backoff"`
	UnlockAttemptsPerSecond float64       `mapstructure:"unlock_attempts_per_second"`
}

// Config holds the application configuration.
type Config struct {
	Cooldown CooldownConfig `mapstructure:"cooldown"`
	AntiSpam AntiSpamConfig `mapstructure:"anti_spam"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Settings SettingsConfig `mapstructure:"settings"`
	// Logging Configuration
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(fmt.Sprintf("default config does not decode: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cooldown.enabled", true)
	v.SetDefault("cooldown.default_duration_seconds", 120)
	v.SetDefault("cooldown.per_action.call_seconds", 120)
	v.SetDefault("cooldown.per_action.sms_seconds", 90)
	v.SetDefault("cooldown.per_action.whatsapp_seconds", 90)
	v.SetDefault("cooldown.per_action.email_seconds", 60)
	v.SetDefault("cooldown.grace_period_seconds", 3)
	v.SetDefault("cooldown.persist.use_local_storage", true)
	v.SetDefault("cooldown.persist.key_prefix", "pthc_cd_")
	v.SetDefault("cooldown.persist.persist_across_reload_minutes", 120)
	v.SetDefault("cooldown.persist.cleanup_on_expire", true)
	v.SetDefault("cooldown.ui.countdown_format", "mm:ss")
	v.SetDefault("cooldown.ui.warn_threshold_seconds", 10)
	v.SetDefault("cooldown.ui.toast_message_template", "Action on cooldown. Try again in {remaining}.")
	v.SetDefault("cooldown.test_mode.enabled", false)
	v.SetDefault("cooldown.test_mode.override_all_actions_seconds", 5)
	v.SetDefault("cooldown.debug.bypass_when_show_debug_panel", false)
	v.SetDefault("cooldown.debug.log_transitions", true)

	v.SetDefault("anti_spam.enabled", true)
	v.SetDefault("anti_spam.duplicate_window_minutes", 10)
	v.SetDefault("anti_spam.cell_size_meters", 30)
	v.SetDefault("anti_spam.post_action_lockout_seconds", 60)
	v.SetDefault("anti_spam.daily_caps.call", 3)
	v.SetDefault("anti_spam.daily_caps.sms", 3)
	v.SetDefault("anti_spam.daily_caps.whatsapp", 3)
	v.SetDefault("anti_spam.daily_caps.email", 3)
	v.SetDefault("anti_spam.storage.use_local_storage", true)
	v.SetDefault("anti_spam.storage.key_prefix", "pthc_as_")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", ".")
	v.SetDefault("storage.sql_driver", "postgres")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_namespace", "pinguard:")

	v.SetDefault("settings.key_prefix", "pthc_admin_")
	v.SetDefault("settings.pbkdf2_iterations", 300000)
	v.SetDefault("settings.max_failed_unlocks", 5)
	v.SetDefault("settings.unlock_backoff", "30s")
	v.SetDefault("settings.unlock_attempts_per_second", 1.0)

	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_format", "text")
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PINGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pinguard")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/pinguard/")
		v.AddConfigPath("$HOME/.pinguard")
		v.AddConfigPath(".")
	}
	return v
}

// LoadConfig loads configuration from file, environment variables, and defaults using Viper.
func LoadConfig(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Info: No config file found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// Watch re-reads configPath whenever it changes on disk and hands the result to
// onChange. Invalid revisions are reported with a nil config and the validation error.
func Watch(configPath string, onChange func(*Config, error)) error {
	if configPath == "" {
		return errors.New("watching requires an explicit config file path")
	}
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := decode(v)
		onChange(cfg, err)
	})
	v.WatchConfig()
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges. The engines only clamp negative durations, so
// anything else out of range must be rejected here.
func (cfg *Config) Validate() error {
	cd := cfg.Cooldown
	if cd.DefaultDurationSeconds < 0 {
		return errors.New("cooldown.default_duration_seconds cannot be negative")
	}
	if cd.PerAction.CallSeconds < 0 || cd.PerAction.SMSSeconds < 0 || cd.PerAction.WhatsAppSeconds < 0 || cd.PerAction.EmailSeconds < 0 {
		return errors.New("cooldown.per_action durations cannot be negative")
	}
	if cd.GracePeriodSeconds < 0 || cd.GracePeriodSeconds > 30 {
		return errors.New("cooldown.grace_period_seconds must be between 0 and 30")
	}
	if cd.Persist.KeyPrefix == "" {
		return errors.New("cooldown.persist.key_prefix cannot be empty")
	}
	if cd.Persist.PersistAcrossReloadMinutes < 0 {
		return errors.New("cooldown.persist.persist_across_reload_minutes cannot be negative")
	}
	if cd.UI.CountdownFormat != "mm:ss" && cd.UI.CountdownFormat != "ss" {
		return fmt.Errorf("invalid cooldown.ui.countdown_format %q: must be 'mm:ss' or 'ss'", cd.UI.CountdownFormat)
	}
	if cd.UI.WarnThresholdSeconds < 0 {
		return errors.New("cooldown.ui.warn_threshold_seconds cannot be negative")
	}
	if cd.TestMode.OverrideAllActionsSeconds < 0 {
		return errors.New("cooldown.test_mode.override_all_actions_seconds cannot be negative")
	}

	as := cfg.AntiSpam
	if as.DuplicateWindowMinutes < 0 {
		return errors.New("anti_spam.duplicate_window_minutes cannot be negative")
	}
	if as.CellSizeMeters < 1 || as.CellSizeMeters > 500 {
		return errors.New("anti_spam.cell_size_meters must be between 1 and 500")
	}
	if as.PostActionLockoutSeconds < 0 {
		return errors.New("anti_spam.post_action_lockout_seconds cannot be negative")
	}
	if as.DailyCaps.Call < 0 || as.DailyCaps.SMS < 0 || as.DailyCaps.WhatsApp < 0 || as.DailyCaps.Email < 0 {
		return errors.New("anti_spam.daily_caps cannot be negative (use 0 for unlimited)")
	}
	if as.Storage.KeyPrefix == "" {
		return errors.New("anti_spam.storage.key_prefix cannot be empty")
	}
	if as.Storage.KeyPrefix == cd.Persist.KeyPrefix {
		return errors.New("anti_spam.storage.key_prefix must differ from cooldown.persist.key_prefix")
	}

	st := cfg.Storage
	switch st.Backend {
	case "memory", "file":
	case "sql":
		if st.SQLDriver != "postgres" && st.SQLDriver != "sqlite3" {
			return fmt.Errorf("invalid storage.sql_driver %q: must be 'postgres' or 'sqlite3'", st.SQLDriver)
		}
		if st.DSN == "" {
			return errors.New("storage.dsn must be set when storage.backend is 'sql'")
		}
	case "redis":
		if st.RedisAddr == "" {
			return errors.New("storage.redis_addr must be set when storage.backend is 'redis'")
		}
	default:
		return fmt.Errorf("invalid storage.backend %q: must be 'memory', 'file', 'sql' or 'redis'", st.Backend)
	}

	se := cfg.Settings
	if se.KeyPrefix == "" {
		return errors.New("settings.key_prefix cannot be empty")
	}
	if se.PBKDF2Iterations < 1 {
		return errors.New("settings.pbkdf2_iterations must be at least 1")
	}
	if se.MaxFailedUnlocks < 1 {
		return errors.New("settings.max_failed_unlocks must be at least 1")
	}
	if se.UnlockBackoff < 0 {
		return errors.New("settings.unlock_backoff cannot be negative")
	}
	if se.UnlockAttemptsPerSecond <= 0 {
		return errors.New("settings.unlock_attempts_per_second must be positive")
	}

	// Validate Log Level
	validLevels := map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}
	if _, ok := validLevels[strings.ToUpper(cfg.LogLevel)]; !ok {
		return fmt.Errorf("invalid log_level %q: must be one of DEBUG, INFO, WARN, ERROR", cfg.LogLevel)
	}
	// Validate Log Format
	validFormats := map[string]bool{"text": true, "json": true}
	if _, ok := validFormats[strings.ToLower(cfg.LogFormat)]; !ok {
		return fmt.Errorf("invalid log_format %q: must be 'text' or 'json'", cfg.LogFormat)
	}

	return nil
}
