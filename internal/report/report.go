// Package report decides whether a pinned incident report may be launched on a
// channel and records it when it is.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kyleseneker/pinguard/internal/action"
	"github.com/kyleseneker/pinguard/internal/antispam"
	"github.com/kyleseneker/pinguard/internal/config"
	"github.com/kyleseneker/pinguard/internal/cooldown"
	"github.com/kyleseneker/pinguard/internal/kvstore"
	"github.com/kyleseneker/pinguard/internal/logging"
	"github.com/kyleseneker/pinguard/internal/settings"
)

// Pin is a reported location in decimal degrees.
type Pin struct {
	Lat float64
	Lng float64
}

func (p Pin) String() string {
	return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lng)
}

// Request is what a Launcher receives for an allowed report.
type Request struct {
	ID      uuid.UUID
	Channel action.Channel
	Pin     Pin
	Message string
	At      time.Time
}

// Launcher hands an allowed report to the device-native channel.
type Launcher interface {
	Launch(ctx context.Context, req Request) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, req Request) error

func (f LauncherFunc) Launch(ctx context.Context, req Request) error { return f(ctx, req) }

// Policy supplies the live thresholds and the admin channel switches.
type Policy interface {
	Cooldown() config.CooldownConfig
	AntiSpam() config.AntiSpamConfig
	ChannelEnabled(ch action.Channel) bool
	Current() *settings.Document
}

// Outcome describes the result of Submit.
type Outcome struct {
	ID        uuid.UUID
	Channel   action.Channel
	Allowed   bool
	Reason    string
	Remaining time.Duration
}

// ChannelStatus is one row of Status.
type ChannelStatus struct {
	Channel    action.Channel
	Enabled    bool
	Remaining  time.Duration
	Countdown  string
	Warn       bool // remaining is under the warn threshold
	DailyCount int
	DailyCap   int // 0 means unlimited
	Decision   *antispam.Decision
}

// Gate composes the cooldown engine and the anti-spam guard around a launch.
type Gate struct {
	cooldowns *cooldown.Engine
	guard     *antispam.Guard
	policy    Policy
	clock     kvstore.Clock
	logger    logging.Logger
}

// NewGate creates a Gate.
func NewGate(cooldowns *cooldown.Engine, guard *antispam.Guard, policy Policy, clock kvstore.Clock, logger logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Get()
	}
	if clock == nil {
		clock = kvstore.SystemClock{}
	}
	return &Gate{
		cooldowns: cooldowns,
		guard:     guard,
		policy:    policy,
		clock:     clock,
		logger:    logger.Named("gate"),
	}
}

type submitOptions struct {
	cooldownSeconds *int
}

// SubmitOption customises a single Submit call.
type SubmitOption func(*submitOptions)

// WithCooldownSeconds replaces the configured cooldown length for this report.
func WithCooldownSeconds(seconds int) SubmitOption {
	return func(o *submitOptions) { o.cooldownSeconds = &seconds }
}

// Submit runs the checks for a report on channelKey at pin and, when they all
// pass, launches it and records it. A launch error is returned with nothing
// recorded; every other denial comes back as an Outcome with a reason.
func (g *Gate) Submit(ctx context.Context, channelKey string, pin Pin, launcher Launcher, opts ...SubmitOption) (Outcome, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	ch := action.Parse(channelKey)
	out := Outcome{ID: uuid.New(), Channel: ch}
	logger := g.logger.With("report_id", out.ID.String(), "channel", ch.String())

	// Check 1: known and enabled channel
	if !ch.Known() {
		out.Reason = fmt.Sprintf("Unknown channel %q.", channelKey)
		logger.Info("Report denied", "reason", out.Reason)
		return out, nil
	}
	if !g.policy.ChannelEnabled(ch) {
		out.Reason = fmt.Sprintf("The %s channel is disabled.", ch)
		logger.Info("Report denied", "reason", out.Reason)
		return out, nil
	}

	key := ch.String()

	// Check 2: anti-spam guard
	if d := g.guard.Guard(ctx, key, pin.Lat, pin.Lng); !d.Allowed {
		out.Reason = d.Reason
		logger.Info("Report denied by anti-spam guard", "reason", out.Reason)
		return out, nil
	}

	// Check 3: per-channel cooldown
	wasCooling := g.cooldowns.IsCoolingDown(ctx, key)
	if !g.cooldowns.TryBegin(ctx, key, o.cooldownSeconds) {
		cd := g.policy.Cooldown()
		out.Remaining = g.cooldowns.GetRemaining(ctx, key)
		out.Reason = cooldown.RenderTemplate(cd.UI.ToastMessageTemplate, out.Remaining, cd.UI.CountdownFormat)
		logger.Info("Report denied by cooldown", "remaining", out.Remaining)
		return out, nil
	}

	req := Request{
		ID:      out.ID,
		Channel: ch,
		Pin:     pin,
		At:      g.clock.Now().UTC(),
	}
	req.Message = g.renderMessage(ch, req)

	if err := launcher.Launch(ctx, req); err != nil {
		if !wasCooling {
			// The cooldown started above belongs to a report that never went out.
			g.cooldowns.Clear(ctx, key)
		}
		logger.Error("Launch failed", "error", err)
		return out, fmt.Errorf("launching %s report: %w", ch, err)
	}

	g.guard.Record(ctx, key, pin.Lat, pin.Lng)
	out.Allowed = true
	out.Remaining = g.cooldowns.GetRemaining(ctx, key)
	logger.Info("Report launched", "pin", pin.String(), "cooldown", out.Remaining)
	return out, nil
}

// renderMessage fills the admin template for ch. Call and WhatsApp reuse the
// SMS template.
func (g *Gate) renderMessage(ch action.Channel, req Request) string {
	doc := g.policy.Current()
	tpl := doc.Templates.SMS
	if ch == action.Email && doc.Templates.Email != "" {
		tpl = doc.Templates.Email
	}
	r := strings.NewReplacer(
		"{coords}", req.Pin.String(),
		"{location}", req.Pin.String(),
		"{timestamp}", req.At.Format(time.RFC3339),
		"{details}", "",
	)
	return strings.TrimSpace(r.Replace(tpl))
}

// Status reports per-channel state. When pin is non-nil each row also carries
// the guard's current decision for that location.
func (g *Gate) Status(ctx context.Context, pin *Pin) []ChannelStatus {
	cd := g.policy.Cooldown()
	as := g.policy.AntiSpam()
	warnAt := time.Duration(cd.UI.WarnThresholdSeconds) * time.Second

	rows := make([]ChannelStatus, 0, len(action.All()))
	for _, ch := range action.All() {
		key := ch.String()
		remaining := g.cooldowns.GetRemaining(ctx, key)
		row := ChannelStatus{
			Channel:    ch,
			Enabled:    g.policy.ChannelEnabled(ch),
			Remaining:  remaining,
			Countdown:  cooldown.FormatRemaining(remaining, cd.UI.CountdownFormat),
			Warn:       remaining > 0 && remaining <= warnAt,
			DailyCount: g.guard.GetDailyCount(ctx, key),
			DailyCap:   as.DailyCaps.ForChannel(ch),
		}
		if pin != nil {
			d := g.guard.Guard(ctx, key, pin.Lat, pin.Lng)
			row.Decision = &d
		}
		rows = append(rows, row)
	}
	return rows
}

// Reset clears cooldowns for every channel and/or all anti-spam state.
func (g *Gate) Reset(ctx context.Context, cooldowns, antiSpam bool) {
	if cooldowns {
		for _, ch := range action.All() {
			g.cooldowns.Clear(ctx, ch.String())
		}
		g.logger.Info("Cleared cooldowns")
	}
	if antiSpam {
		g.guard.Clear(ctx)
		g.logger.Info("Cleared anti-spam state")
	}
}
