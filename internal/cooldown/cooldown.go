// Package cooldown enforces a minimum interval between repeated triggers of the
// same reporting channel.
package cooldown

import (
	"context"
	"time"

	"github.com/kyleseneker/pinguard/internal/action"
	"github.com/kyleseneker/pinguard/internal/config"
	"github.com/kyleseneker/pinguard/internal/kvstore"
	"github.com/kyleseneker/pinguard/internal/logging"
)

// ConfigSource supplies the live cooldown thresholds. It is read on every call.
type ConfigSource interface {
	Cooldown() config.CooldownConfig
}

// Record is the persisted cooldown state for one action key.
type Record struct {
	Started int64  `json:"started"`
	Until   int64  `json:"until"`
	Action  string `json:"action"`
}

// rawRecord distinguishes missing fields from zero values.
type rawRecord struct {
	Started *int64 `json:"started"`
	Until   *int64 `json:"until"`
	Action  string `json:"action"`
}

// Engine is the per-action cooldown state machine. An action is Idle (no live
// record) or Active (now < until); the grace window is derived from timestamps.
type Engine struct {
	store  *kvstore.Adapter
	source ConfigSource
	logger logging.Logger
}

// NewEngine creates an Engine. A nil logger falls back to the application logger.
func NewEngine(store *kvstore.Adapter, source ConfigSource, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Get()
	}
	return &Engine{
		store:  store,
		source: source,
		logger: logger.Named("cooldown"),
	}
}

func buildKey(cfg config.CooldownConfig, actionKey string) string {
	return cfg.Persist.KeyPrefix + actionKey
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// SecondsFor resolves the cooldown length for actionKey: test mode override,
// then the per-channel value, then the default.
func (e *Engine) SecondsFor(actionKey string) int {
	return secondsFor(e.source.Cooldown(), actionKey)
}

func secondsFor(cfg config.CooldownConfig, actionKey string) int {
	if cfg.TestMode.Enabled {
		return clampNonNegative(cfg.TestMode.OverrideAllActionsSeconds)
	}
	switch action.Parse(actionKey) {
	case action.Call:
		return clampNonNegative(cfg.PerAction.CallSeconds)
	case action.SMS:
		return clampNonNegative(cfg.PerAction.SMSSeconds)
	case action.WhatsApp:
		return clampNonNegative(cfg.PerAction.WhatsAppSeconds)
	case action.Email:
		return clampNonNegative(cfg.PerAction.EmailSeconds)
	default:
		return clampNonNegative(cfg.DefaultDurationSeconds)
	}
}

// load reads the record for key. Missing "started" defaults to now and missing
// "until" to fallbackUntil.
func (e *Engine) load(ctx context.Context, area kvstore.Area, key string, now, fallbackUntil int64) (Record, bool) {
	var raw rawRecord
	found, err := e.store.GetJSON(ctx, area, key, &raw)
	if err != nil {
		e.logger.Warn("Failed to read cooldown record, treating as absent", "key", key, "error", err)
		return Record{}, false
	}
	if !found {
		return Record{}, false
	}
	rec := Record{Started: now, Until: fallbackUntil, Action: raw.Action}
	if raw.Started != nil {
		rec.Started = *raw.Started
	}
	if raw.Until != nil {
		rec.Until = *raw.Until
	}
	return rec, true
}

func (e *Engine) remove(ctx context.Context, area kvstore.Area, key string) {
	if err := e.store.Remove(ctx, area, key); err != nil {
		e.logger.Warn("Failed to remove cooldown record", "key", key, "error", err)
	}
}

func isStale(cfg config.CooldownConfig, rec Record, now int64) bool {
	windowMs := int64(cfg.Persist.PersistAcrossReloadMinutes) * 60_000
	return windowMs > 0 && now-rec.Started > windowMs
}

// TryBegin starts a cooldown for actionKey and reports whether the action may
// proceed. A repeat inside the grace period is allowed without restarting the
// timer. overrideSeconds, when non-nil, replaces the resolved duration.
func (e *Engine) TryBegin(ctx context.Context, actionKey string, overrideSeconds *int) bool {
	cfg := e.source.Cooldown()
	if !cfg.Enabled || cfg.Debug.BypassWhenShowDebugPanel {
		return true
	}

	key := buildKey(cfg, actionKey)
	area := kvstore.AreaFor(cfg.Persist.UseLocalStorage)
	now := e.store.NowMs()

	if rec, ok := e.load(ctx, area, key, now, 0); ok {
		switch {
		case isStale(cfg, rec, now):
			e.remove(ctx, area, key)
			e.transition(cfg, actionKey, "evicted stale record", "started", rec.Started)
		case rec.Until > 0 && now < rec.Until:
			sinceStartMs := now - rec.Started
			if sinceStartMs <= int64(cfg.GracePeriodSeconds)*1000 {
				e.logger.Debug("Within grace period, allowing repeat", "action", actionKey, "since_start_ms", sinceStartMs)
				return true
			}
			e.logger.Debug("Cooldown active, denying", "action", actionKey, "remaining_ms", rec.Until-now)
			return false
		}
	}

	seconds := secondsFor(cfg, actionKey)
	if overrideSeconds != nil {
		seconds = clampNonNegative(*overrideSeconds)
	}

	rec := Record{Started: now, Until: now + int64(seconds)*1000, Action: actionKey}
	if err := e.store.Set(ctx, area, key, rec); err != nil {
		// Allow anyway: failing to persist must not block a report.
		e.logger.Warn("Failed to persist cooldown record", "key", key, "error", err)
		return true
	}
	e.transition(cfg, actionKey, "started", "seconds", seconds, "until", rec.Until)
	return true
}

// GetRemaining returns how long actionKey stays on cooldown. Expired or stale
// records yield zero and are deleted when cleanup_on_expire is set.
func (e *Engine) GetRemaining(ctx context.Context, actionKey string) time.Duration {
	cfg := e.source.Cooldown()
	if !cfg.Enabled {
		return 0
	}

	key := buildKey(cfg, actionKey)
	area := kvstore.AreaFor(cfg.Persist.UseLocalStorage)
	now := e.store.NowMs()

	rec, ok := e.load(ctx, area, key, now, now)
	if !ok {
		return 0
	}

	if isStale(cfg, rec, now) {
		if cfg.Persist.CleanupOnExpire {
			e.remove(ctx, area, key)
			e.transition(cfg, actionKey, "evicted stale record", "started", rec.Started)
		}
		return 0
	}

	ms := rec.Until - now
	if ms <= 0 {
		if cfg.Persist.CleanupOnExpire {
			e.remove(ctx, area, key)
			e.transition(cfg, actionKey, "expired")
		}
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// IsCoolingDown reports whether actionKey has time remaining.
func (e *Engine) IsCoolingDown(ctx context.Context, actionKey string) bool {
	return e.GetRemaining(ctx, actionKey) > 0
}

// Clear deletes the record for actionKey.
func (e *Engine) Clear(ctx context.Context, actionKey string) {
	cfg := e.source.Cooldown()
	key := buildKey(cfg, actionKey)
	e.remove(ctx, kvstore.AreaFor(cfg.Persist.UseLocalStorage), key)
	e.transition(cfg, actionKey, "cleared")
}

func (e *Engine) transition(cfg config.CooldownConfig, actionKey, what string, args ...interface{}) {
	if !cfg.Debug.LogTransitions {
		return
	}
	e.logger.Info("Cooldown "+what, append([]interface{}{"action", actionKey}, args...)...)
}
