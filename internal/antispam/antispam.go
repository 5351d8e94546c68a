// Package antispam throttles abuse of the whole reporting flow: a global
// lockout after any report, duplicate suppression per map cell and daily caps.
package antispam

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kyleseneker/pinguard/internal/action"
	"github.com/kyleseneker/pinguard/internal/config"
	"github.com/kyleseneker/pinguard/internal/kvstore"
	"github.com/kyleseneker/pinguard/internal/logging"
)

const (
	metersPerDegree = 111_320.0
	minCosFactor    = 0.1
	dateLayout      = "2006-01-02"
)

// ConfigSource supplies the live anti-spam thresholds. It is read on every call.
type ConfigSource interface {
	AntiSpam() config.AntiSpamConfig
}

// Decision is the outcome of Guard. Reason is empty when allowed.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

type lockRecord struct {
	Until *int64 `json:"until"`
}

type dailyRecord struct {
	Date  *string `json:"date"`
	Count *int    `json:"count"`
}

// Guard evaluates and records reports against the anti-spam rules.
type Guard struct {
	store  *kvstore.Adapter
	source ConfigSource
	logger logging.Logger
}

// New creates a Guard. A nil logger falls back to the application logger.
func New(store *kvstore.Adapter, source ConfigSource, logger logging.Logger) *Guard {
	if logger == nil {
		logger = logging.Get()
	}
	return &Guard{
		store:  store,
		source: source,
		logger: logger.Named("antispam"),
	}
}

// Guard checks, in order, the global lock, the cell lock and the daily cap for
// actionKey at (lat, lng). The first failing check decides the reason.
func (g *Guard) Guard(ctx context.Context, actionKey string, lat, lng float64) Decision {
	cfg := g.source.AntiSpam()
	if !cfg.Enabled {
		return allow()
	}

	area := kvstore.AreaFor(cfg.Storage.UseLocalStorage)
	at := g.store.Clock().Now()
	now := at.UnixMilli()

	if until, ok := g.readUntil(ctx, area, cfg.Storage.KeyPrefix+"global_lock"); ok && until > now {
		secs := ceilDiv(until-now, 1000)
		g.logger.Debug("Denied by global lock", "action", actionKey, "remaining_s", secs)
		return deny("Please wait %ds before sending another report.", secs)
	}

	cellKey := CellKey(cfg.Storage.KeyPrefix, cfg.CellSizeMeters, lat, lng)
	if until, ok := g.readUntil(ctx, area, cellKey); ok && until > now {
		mins := ceilDiv(until-now, 60_000)
		g.logger.Debug("Denied by duplicate cell", "action", actionKey, "cell", cellKey, "remaining_min", mins)
		return deny("Duplicate report blocked for %d more min in this area.", mins)
	}

	limit := cfg.DailyCaps.ForChannel(action.Parse(actionKey))
	if limit > 0 {
		if count := g.dailyCount(ctx, cfg, area, actionKey, at); count >= limit {
			g.logger.Debug("Denied by daily cap", "action", actionKey, "count", count, "cap", limit)
			return deny("Daily limit reached for %s (%d).", actionKey, limit)
		}
	}

	return allow()
}

// Record writes the global lock, the cell lock and bumps the daily counter for
// actionKey. Call it after a report was actually launched.
func (g *Guard) Record(ctx context.Context, actionKey string, lat, lng float64) {
	cfg := g.source.AntiSpam()
	if !cfg.Enabled {
		return
	}

	area := kvstore.AreaFor(cfg.Storage.UseLocalStorage)
	now := g.store.Clock().Now()
	nowMs := now.UnixMilli()

	if lockoutMs := int64(cfg.PostActionLockoutSeconds) * 1000; lockoutMs > 0 {
		g.write(ctx, area, cfg.Storage.KeyPrefix+"global_lock", map[string]int64{"until": nowMs + lockoutMs})
	}

	if windowMs := int64(cfg.DuplicateWindowMinutes) * 60_000; windowMs > 0 {
		cellKey := CellKey(cfg.Storage.KeyPrefix, cfg.CellSizeMeters, lat, lng)
		g.write(ctx, area, cellKey, map[string]int64{"until": nowMs + windowMs})
	}

	today := now.UTC().Format(dateLayout)
	key := dailyKey(cfg, actionKey)
	count := 0
	var rec dailyRecord
	found, err := g.store.GetJSON(ctx, area, key, &rec)
	if err != nil {
		g.logger.Warn("Failed to read daily counter, restarting at zero", "key", key, "error", err)
	}
	if found && rec.Date != nil && rec.Count != nil && *rec.Date == today {
		count = *rec.Count
	}
	count++
	g.write(ctx, area, key, struct {
		Date  string `json:"date"`
		Count int    `json:"count"`
	}{today, count})
	g.logger.Debug("Recorded report", "action", actionKey, "daily_count", count)
}

// GetDailyCount returns today's count for actionKey. A counter from another
// UTC day reads as zero without being rewritten.
func (g *Guard) GetDailyCount(ctx context.Context, actionKey string) int {
	cfg := g.source.AntiSpam()
	return g.dailyCount(ctx, cfg, kvstore.AreaFor(cfg.Storage.UseLocalStorage), actionKey, g.store.Clock().Now())
}

// Clear removes every key under the guard's prefix.
func (g *Guard) Clear(ctx context.Context) {
	cfg := g.source.AntiSpam()
	area := kvstore.AreaFor(cfg.Storage.UseLocalStorage)
	if err := g.store.RemoveAllWithPrefix(ctx, area, cfg.Storage.KeyPrefix); err != nil {
		g.logger.Warn("Failed to clear anti-spam state", "prefix", cfg.Storage.KeyPrefix, "error", err)
	}
}

func (g *Guard) dailyCount(ctx context.Context, cfg config.AntiSpamConfig, area kvstore.Area, actionKey string, now time.Time) int {
	key := dailyKey(cfg, actionKey)
	var rec dailyRecord
	found, err := g.store.GetJSON(ctx, area, key, &rec)
	if err != nil {
		g.logger.Warn("Failed to read daily counter", "key", key, "error", err)
		return 0
	}
	if !found || rec.Date == nil || rec.Count == nil {
		return 0
	}
	if *rec.Date != now.UTC().Format(dateLayout) {
		return 0
	}
	return *rec.Count
}

func (g *Guard) readUntil(ctx context.Context, area kvstore.Area, key string) (int64, bool) {
	var rec lockRecord
	found, err := g.store.GetJSON(ctx, area, key, &rec)
	if err != nil {
		g.logger.Warn("Failed to read lock record, treating as absent", "key", key, "error", err)
		return 0, false
	}
	if !found || rec.Until == nil {
		return 0, false
	}
	return *rec.Until, true
}

func (g *Guard) write(ctx context.Context, area kvstore.Area, key string, value any) {
	if err := g.store.Set(ctx, area, key, value); err != nil {
		g.logger.Warn("Failed to write anti-spam record", "key", key, "error", err)
	}
}

func dailyKey(cfg config.AntiSpamConfig, actionKey string) string {
	return cfg.Storage.KeyPrefix + actionKey + "_daily"
}

// CellKey quantizes (lat, lng) into a grid of roughly cellSizeMeters and returns
// the storage key for that cell. Points near a cell edge may land in
// neighbouring cells.
func CellKey(prefix string, cellSizeMeters int, lat, lng float64) string {
	size := float64(cellSizeMeters)
	if size <= 0 {
		size = 1
	}
	latDelta := size / metersPerDegree
	cosFactor := math.Max(math.Cos(lat*math.Pi/180), minCosFactor)
	lngDelta := size / (metersPerDegree * cosFactor)

	qLat := math.Round(lat/latDelta) * latDelta
	qLng := math.Round(lng/lngDelta) * lngDelta
	return prefix + "cell_" + format5(qLat) + "_" + format5(qLng)
}

func format5(v float64) string {
	s := strconv.FormatFloat(v, 'f', 5, 64)
	if s == "-0.00000" {
		return "0.00000"
	}
	return s
}

// ceilDiv returns ceil(n/d) for positive n, never less than 1.
func ceilDiv(n, d int64) int64 {
	q := (n + d - 1) / d
	if q < 1 {
		return 1
	}
	return q
}
