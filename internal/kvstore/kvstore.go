package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Area selects a logical storage area. Local survives restarts; Session lives
// only as long as the process.
type Area int

const (
	Local Area = iota
	Session
)

// AreaFor maps a use-local-storage toggle to an Area.
func AreaFor(useLocal bool) Area {
	if useLocal {
		return Local
	}
	return Session
}

func (a Area) String() string {
	if a == Session {
		return "session"
	}
	return "local"
}

// Store is a flat string key-value namespace backing one area.
type Store interface {
	// Get returns the raw value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists every key currently stored in the area.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Clock supplies wall-clock time to the engines.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Adapter is the persistence contract the throttling engines consume: a clock
// plus JSON records in a local and a session area.
type Adapter struct {
	clock   Clock
	local   Store
	session Store
}

// NewAdapter wires a clock and the two area stores together.
func NewAdapter(clock Clock, local, session Store) *Adapter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Adapter{clock: clock, local: local, session: session}
}

// NowMs returns the current time in milliseconds since the Unix epoch.
func (a *Adapter) NowMs() int64 {
	return a.clock.Now().UnixMilli()
}

// Clock returns the adapter's clock.
func (a *Adapter) Clock() Clock {
	return a.clock
}

func (a *Adapter) area(area Area) Store {
	if area == Session {
		return a.session
	}
	return a.local
}

// Get returns the raw JSON text stored under key.
func (a *Adapter) Get(ctx context.Context, area Area, key string) (string, bool, error) {
	raw, ok, err := a.area(area).Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("reading %s key %q: %w", area, key, err)
	}
	return raw, ok, nil
}

// GetJSON decodes the value under key into dst. A value that is not valid JSON
// for dst is reported as absent, not as an error.
func (a *Adapter) GetJSON(ctx context.Context, area Area, key string, dst any) (bool, error) {
	raw, ok, err := a.Get(ctx, area, key)
	if err != nil || !ok {
		return false, err
	}
	if strings.TrimSpace(raw) == "" || strings.TrimSpace(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, nil
	}
	return true, nil
}

// Set stores value as JSON text under key.
func (a *Adapter) Set(ctx context.Context, area Area, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s key %q: %w", area, key, err)
	}
	if err := a.area(area).Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("writing %s key %q: %w", area, key, err)
	}
	return nil
}

// SetRaw stores already-encoded text under key.
func (a *Adapter) SetRaw(ctx context.Context, area Area, key, raw string) error {
	if err := a.area(area).Set(ctx, key, raw); err != nil {
		return fmt.Errorf("writing %s key %q: %w", area, key, err)
	}
	return nil
}

// Remove deletes key from area.
func (a *Adapter) Remove(ctx context.Context, area Area, key string) error {
	if err := a.area(area).Remove(ctx, key); err != nil {
		return fmt.Errorf("removing %s key %q: %w", area, key, err)
	}
	return nil
}

// RemoveAllWithPrefix enumerates the area and deletes every key starting with prefix.
func (a *Adapter) RemoveAllWithPrefix(ctx context.Context, area Area, prefix string) error {
	s := a.area(area)
	keys, err := s.Keys(ctx)
	if err != nil {
		return fmt.Errorf("listing %s keys: %w", area, err)
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if err := s.Remove(ctx, k); err != nil {
			return fmt.Errorf("removing %s key %q: %w", area, k, err)
		}
	}
	return nil
}

// Close closes both area stores.
func (a *Adapter) Close() error {
	errLocal := a.local.Close()
	errSession := a.session.Close()
	if errLocal != nil {
		return errLocal
	}
	return errSession
}
