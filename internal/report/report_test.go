package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleseneker/pinguard/internal/action"
	"github.com/kyleseneker/pinguard/internal/antispam"
	"github.com/kyleseneker/pinguard/internal/config"
	"github.com/kyleseneker/pinguard/internal/cooldown"
	"github.com/kyleseneker/pinguard/internal/kvstore"
	"github.com/kyleseneker/pinguard/internal/logging"
	"github.com/kyleseneker/pinguard/internal/settings"
)

var (
	t0  = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	pin = Pin{Lat: 12.9716, Lng: 77.5946}
)

type recordingLauncher struct {
	requests []Request
	err      error
}

func (l *recordingLauncher) Launch(_ context.Context, req Request) error {
	l.requests = append(l.requests, req)
	return l.err
}

type fixture struct {
	gate     *Gate
	clock    *kvstore.ManualClock
	provider *settings.Provider
	guard    *antispam.Guard
	engine   *cooldown.Engine
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	clock := kvstore.NewManualClock(t0)
	adapter := kvstore.NewAdapter(clock, kvstore.NewMemoryStore(), kvstore.NewMemoryStore())
	log := logging.Discard()

	store := settings.NewStore(adapter, cfg.Settings, log)
	provider := settings.NewProvider(cfg, store, log)
	engine := cooldown.NewEngine(adapter, provider, log)
	guard := antispam.New(adapter, provider, log)
	return &fixture{
		gate:     NewGate(engine, guard, provider, clock, log),
		clock:    clock,
		provider: provider,
		guard:    guard,
		engine:   engine,
	}
}

func TestSubmitAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	l := &recordingLauncher{}

	out, err := f.gate.Submit(ctx, "Call", pin, l)
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.Empty(t, out.Reason)
	assert.NotEqual(t, uuid.Nil, out.ID)
	assert.Equal(t, action.Call, out.Channel)
	assert.Equal(t, 120*time.Second, out.Remaining)

	require.Len(t, l.requests, 1)
	req := l.requests[0]
	assert.Equal(t, out.ID, req.ID)
	assert.Equal(t, "Accident at 12.97160,77.59460. Need help. 2025-06-01T09:30:00Z", req.Message)

	assert.Equal(t, 1, f.guard.GetDailyCount(ctx, "call"))
	assert.True(t, f.engine.IsCoolingDown(ctx, "call"))

	// The global lockout now blocks every channel.
	out, err = f.gate.Submit(ctx, "sms", Pin{Lat: 1, Lng: 1}, l)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, "Please wait 60s before sending another report.", out.Reason)
	assert.Len(t, l.requests, 1)
}

func TestSubmitEmailUsesEmailTemplate(t *testing.T) {
	f := newFixture(t, nil)
	l := &recordingLauncher{}
	_, err := f.gate.Submit(context.Background(), "email", pin, l)
	require.NoError(t, err)
	require.Len(t, l.requests, 1)
	assert.Equal(t, "Accident reported at 12.97160,77.59460 (12.97160,77.59460) at 2025-06-01T09:30:00Z. Details:", l.requests[0].Message)
}

func TestSubmitDeniedChannels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	l := &recordingLauncher{}

	out, err := f.gate.Submit(ctx, "pager", pin, l)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, `Unknown channel "pager".`, out.Reason)

	out, err = f.gate.Submit(ctx, "whatsapp", pin, l)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, "The whatsapp channel is disabled.", out.Reason)

	assert.Empty(t, l.requests)
	assert.Equal(t, 0, f.guard.GetDailyCount(ctx, "whatsapp"))
}

func TestSubmitDeniedByCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *config.Config) {
		c.AntiSpam.PostActionLockoutSeconds = 0
		c.AntiSpam.DuplicateWindowMinutes = 0
	})
	l := &recordingLauncher{}

	out, err := f.gate.Submit(ctx, "call", pin, l)
	require.NoError(t, err)
	require.True(t, out.Allowed)

	f.clock.Advance(10 * time.Second)
	out, err = f.gate.Submit(ctx, "call", pin, l)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, 110*time.Second, out.Remaining)
	assert.Equal(t, "Action on cooldown. Try again in 01:50.", out.Reason)
	assert.Len(t, l.requests, 1)
	assert.Equal(t, 1, f.guard.GetDailyCount(ctx, "call"))
}

func TestSubmitLaunchFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	l := &recordingLauncher{err: errors.New("no telephony")}

	out, err := f.gate.Submit(ctx, "sms", pin, l)
	assert.ErrorContains(t, err, "no telephony")
	assert.False(t, out.Allowed)

	assert.Equal(t, 0, f.guard.GetDailyCount(ctx, "sms"))
	assert.False(t, f.engine.IsCoolingDown(ctx, "sms"), "cooldown is released when nothing was sent")
	assert.True(t, f.guard.Guard(ctx, "sms", pin.Lat, pin.Lng).Allowed)

	l.err = nil
	out, err = f.gate.Submit(ctx, "sms", pin, l)
	require.NoError(t, err)
	assert.True(t, out.Allowed)
}

func TestSubmitWithCooldownSeconds(t *testing.T) {
	f := newFixture(t, nil)
	out, err := f.gate.Submit(context.Background(), "call", pin, &recordingLauncher{}, WithCooldownSeconds(7))
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.Equal(t, 7*time.Second, out.Remaining)
}

func TestSubmitLauncherFunc(t *testing.T) {
	called := false
	f := newFixture(t, nil)
	_, err := f.gate.Submit(context.Background(), "call", pin, LauncherFunc(func(context.Context, Request) error {
		called = true
		return nil
	}))
	require.NoError(t, err)
	assert.True(t, called)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	rows := f.gate.Status(ctx, nil)
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.Zero(t, r.Remaining)
		assert.Equal(t, "00:00", r.Countdown)
		assert.Nil(t, r.Decision)
		assert.Equal(t, 3, r.DailyCap)
	}
	assert.False(t, rows[2].Enabled, "whatsapp is off by default")

	_, err := f.gate.Submit(ctx, "call", pin, &recordingLauncher{})
	require.NoError(t, err)

	f.clock.Advance(111 * time.Second)
	rows = f.gate.Status(ctx, &pin)
	call := rows[0]
	assert.Equal(t, action.Call, call.Channel)
	assert.Equal(t, 9*time.Second, call.Remaining)
	assert.Equal(t, "00:09", call.Countdown)
	assert.True(t, call.Warn)
	assert.Equal(t, 1, call.DailyCount)
	require.NotNil(t, call.Decision)
	assert.Equal(t, "Duplicate report blocked for 9 more min in this area.", call.Decision.Reason)

	assert.False(t, rows[1].Warn)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.gate.Submit(ctx, "call", pin, &recordingLauncher{})
	require.NoError(t, err)

	f.gate.Reset(ctx, true, false)
	assert.False(t, f.engine.IsCoolingDown(ctx, "call"))
	assert.Equal(t, 1, f.guard.GetDailyCount(ctx, "call"))

	f.gate.Reset(ctx, false, true)
	assert.Equal(t, 0, f.guard.GetDailyCount(ctx, "call"))
	assert.True(t, f.guard.Guard(ctx, "call", pin.Lat, pin.Lng).Allowed)
}

func TestSubmitHonoursAdminOverrides(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Settings.PBKDF2Iterations = 1000
	clock := kvstore.NewManualClock(t0)
	adapter := kvstore.NewAdapter(clock, kvstore.NewMemoryStore(), kvstore.NewMemoryStore())
	log := logging.Discard()

	store := settings.NewStore(adapter, cfg.Settings, log)
	provider := settings.NewProvider(cfg, store, log)
	gate := NewGate(cooldown.NewEngine(adapter, provider, log), antispam.New(adapter, provider, log), provider, clock, log)

	sess := settings.NewSession()
	require.NoError(t, store.Enroll(ctx, sess, "pw"))
	doc := settings.DefaultDocument()
	require.NoError(t, doc.SetField("channels.whatsapp", "true"))
	require.NoError(t, doc.SetField("cooldown.whatsapp_seconds", "33"))
	require.NoError(t, provider.Update(ctx, sess, doc))

	out, err := gate.Submit(ctx, "whatsapp", pin, &recordingLauncher{})
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.Equal(t, 33*time.Second, out.Remaining)
}
