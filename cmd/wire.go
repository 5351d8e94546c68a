package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kyleseneker/pinguard/internal/antispam"
	"github.com/kyleseneker/pinguard/internal/config"
	"github.com/kyleseneker/pinguard/internal/cooldown"
	"github.com/kyleseneker/pinguard/internal/kvstore"
	"github.com/kyleseneker/pinguard/internal/logging"
	"github.com/kyleseneker/pinguard/internal/report"
	"github.com/kyleseneker/pinguard/internal/settings"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	store    *kvstore.Adapter
	session  *settings.Session
	settings *settings.Store
	provider *settings.Provider
	gate     *report.Gate
}

// effectivePassphrase prefers the flag over the environment.
func effectivePassphrase() string {
	if passphrase != "" {
		return passphrase
	}
	return os.Getenv("PINGUARD_PASSPHRASE")
}

// unlockMode says how newApp treats a passphrase that fails to unlock.
type unlockMode int

const (
	// unlockLenient logs the failure and runs with the default settings.
	unlockLenient unlockMode = iota
	// unlockStrict returns the failure.
	unlockStrict
)

// newApp loads configuration, opens storage and, when a passphrase is given,
// unlocks the admin settings so their overrides apply.
func newApp(ctx context.Context, mode unlockMode) (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	logging.InitializeLogger(cfg)
	logger := logging.Get()
	logger.Debug("Configuration loaded", "storage_backend", cfg.Storage.Backend)

	clock := kvstore.SystemClock{}
	store, err := kvstore.Open(ctx, cfg.Storage, clock)
	if err != nil {
		return nil, fmt.Errorf("error initializing storage: %w", err)
	}
	logger.Debug("Storage initialized successfully", "backend", cfg.Storage.Backend)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		session: settings.NewSession(),
	}
	a.settings = settings.NewStore(store, cfg.Settings, logger)
	a.provider = settings.NewProvider(cfg, a.settings, logger)

	if pass := effectivePassphrase(); pass != "" {
		err := a.settings.Unlock(ctx, a.session, pass)
		switch {
		case err == nil:
		case errors.Is(err, settings.ErrNotEnrolled):
			logger.Warn("Passphrase given but no admin passphrase is enrolled yet")
		case mode == unlockLenient:
			logger.Warn("Admin settings stay locked, using defaults", "error", err)
		default:
			a.close()
			return nil, fmt.Errorf("error unlocking admin settings: %w", err)
		}
	}
	if err := a.provider.Initialize(ctx, a.session); err != nil {
		if mode == unlockStrict {
			a.close()
			return nil, fmt.Errorf("error loading admin settings: %w", err)
		}
		logger.Warn("Ignoring unreadable admin settings, using defaults", "error", err)
	}

	engine := cooldown.NewEngine(store, a.provider, logger)
	guard := antispam.New(store, a.provider, logger)
	a.gate = report.NewGate(engine, guard, a.provider, clock, logger)
	return a, nil
}

func (a *app) close() {
	a.session.Lock()
	if err := a.store.Close(); err != nil {
		a.logger.Error("Error closing storage", "error", err)
	}
}
