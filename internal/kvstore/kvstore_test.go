package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleseneker/pinguard/internal/config"
)

// exerciseStore runs the common Store contract against s.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "a", `{"until":1}`))
	require.NoError(t, s.Set(ctx, "b", "2"))
	require.NoError(t, s.Set(ctx, "a", `{"until":5}`))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"until":5}`, v)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, s.Remove(ctx, "a"))
	require.NoError(t, s.Remove(ctx, "never-set"))
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()

	t.Run("Contract", func(t *testing.T) {
		s, err := NewFileStore(filepath.Join(dir, "contract"), Local)
		require.NoError(t, err)
		exerciseStore(t, s)
	})

	t.Run("Survives Reopen", func(t *testing.T) {
		sub := filepath.Join(dir, "reopen")
		s, err := NewFileStore(sub, Local)
		require.NoError(t, err)
		require.NoError(t, s.Set(context.Background(), "pthc_cd_call", `{"until":42}`))
		require.NoError(t, s.Close())

		reopened, err := NewFileStore(sub, Local)
		require.NoError(t, err)
		v, ok, err := reopened.Get(context.Background(), "pthc_cd_call")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `{"until":42}`, v)

		_, err = os.Stat(filepath.Join(sub, "pinguard-local.json"))
		assert.NoError(t, err)
	})

	t.Run("Malformed File Starts Empty", func(t *testing.T) {
		sub := filepath.Join(dir, "malformed")
		require.NoError(t, os.MkdirAll(sub, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(sub, "pinguard-local.json"), []byte("{not json"), 0o600))

		s, err := NewFileStore(sub, Local)
		require.NoError(t, err)
		keys, err := s.Keys(context.Background())
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("Shared Directory Keeps Other Writers' Keys", func(t *testing.T) {
		ctx := context.Background()
		sub := filepath.Join(dir, "shared")

		watcher, err := NewFileStore(sub, Local)
		require.NoError(t, err)
		require.NoError(t, watcher.Set(ctx, "pthc_cd_call", `{"until":1}`))

		reporter, err := NewFileStore(sub, Local)
		require.NoError(t, err)
		require.NoError(t, reporter.Set(ctx, "pthc_as_sms_daily", `{"date":"2024-01-01","count":3}`))

		// The long-lived store sees the other writer's key.
		v, ok, err := watcher.Get(ctx, "pthc_as_sms_daily")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `{"date":"2024-01-01","count":3}`, v)

		require.NoError(t, watcher.Remove(ctx, "pthc_cd_call"))
		require.NoError(t, watcher.Set(ctx, "pthc_as_global_lock", `{"until":2}`))

		fresh, err := NewFileStore(sub, Local)
		require.NoError(t, err)
		keys, err := fresh.Keys(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"pthc_as_sms_daily", "pthc_as_global_lock"}, keys)

		_, ok, err = reporter.Get(ctx, "pthc_cd_call")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSQLStoreSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "pinguard.db")

	local, err := NewSQLStore("sqlite3", dsn, Local)
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })
	exerciseStore(t, local)

	// Areas share the table but not the keys.
	session, err := NewSQLStore("sqlite3", dsn, Session)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	ctx := context.Background()
	require.NoError(t, local.Set(ctx, "shared", "local"))
	_, ok, err := session.Get(ctx, "shared")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("PINGUARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PINGUARD_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	ns := "pinguard_test_" + time.Now().Format("150405.000000") + ":"

	s, err := NewRedisStore(ctx, addr, "", 0, ns, Local)
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := s.Keys(ctx)
		for _, k := range keys {
			_ = s.Remove(ctx, k)
		}
		_ = s.Close()
	})
	exerciseStore(t, s)
}

func TestGlobEscape(t *testing.T) {
	assert.Equal(t, `ns\*x\?:local:`, globEscape("ns*x?:local:"))
	assert.Equal(t, "plain:", globEscape("plain:"))
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := NewRedisStore(ctx, "127.0.0.1:1", "", 0, "ns:", Local)
	assert.Error(t, err)
}

func TestRedisKeyLayout(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })
	s := newRedisStoreWithClient(client, "pinguard:", Session)
	assert.Equal(t, "pinguard:session:", s.prefix)
}

func TestAdapter(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	a := NewAdapter(clock, NewMemoryStore(), NewMemoryStore())

	t.Run("Now Follows Clock", func(t *testing.T) {
		assert.Equal(t, start.UnixMilli(), a.NowMs())
		clock.Advance(1500 * time.Millisecond)
		assert.Equal(t, start.UnixMilli()+1500, a.NowMs())
	})

	t.Run("JSON Round Trip", func(t *testing.T) {
		type rec struct {
			Until int64 `json:"until"`
		}
		require.NoError(t, a.Set(ctx, Local, "k", rec{Until: 99}))
		raw, ok, err := a.Get(ctx, Local, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"until":99}`, raw)

		var got rec
		found, err := a.GetJSON(ctx, Local, "k", &got)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(99), got.Until)
	})

	t.Run("Malformed JSON Reads As Absent", func(t *testing.T) {
		require.NoError(t, a.SetRaw(ctx, Local, "bad", "{oops"))
		var dst map[string]any
		found, err := a.GetJSON(ctx, Local, "bad", &dst)
		assert.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, a.SetRaw(ctx, Local, "null", "null"))
		found, err = a.GetJSON(ctx, Local, "null", &dst)
		assert.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Areas Are Separate", func(t *testing.T) {
		require.NoError(t, a.Set(ctx, Session, "only_session", 1))
		_, ok, err := a.Get(ctx, Local, "only_session")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Remove All With Prefix", func(t *testing.T) {
		for _, k := range []string{"pthc_as_global_lock", "pthc_as_call_daily", "pthc_cd_call"} {
			require.NoError(t, a.Set(ctx, Local, k, 1))
		}
		require.NoError(t, a.RemoveAllWithPrefix(ctx, Local, "pthc_as_"))

		_, ok, _ := a.Get(ctx, Local, "pthc_as_global_lock")
		assert.False(t, ok)
		_, ok, _ = a.Get(ctx, Local, "pthc_as_call_daily")
		assert.False(t, ok)
		_, ok, _ = a.Get(ctx, Local, "pthc_cd_call")
		assert.True(t, ok)
	})
}

func TestAreaFor(t *testing.T) {
	assert.Equal(t, Local, AreaFor(true))
	assert.Equal(t, Session, AreaFor(false))
	assert.Equal(t, "local", Local.String())
	assert.Equal(t, "session", Session.String())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	clock := NewManualClock(time.Now())

	t.Run("Memory", func(t *testing.T) {
		a, err := Open(ctx, config.StorageConfig{Backend: "memory"}, clock)
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, a.local)
		assert.IsType(t, &MemoryStore{}, a.session)
		assert.NoError(t, a.Close())
	})

	t.Run("File", func(t *testing.T) {
		a, err := Open(ctx, config.StorageConfig{Backend: "file", Dir: t.TempDir()}, clock)
		require.NoError(t, err)
		assert.IsType(t, &FileStore{}, a.local)
		assert.NoError(t, a.Close())
	})

	t.Run("SQLite", func(t *testing.T) {
		cfg := config.StorageConfig{Backend: "sql", SQLDriver: "sqlite3", DSN: filepath.Join(t.TempDir(), "kv.db")}
		a, err := Open(ctx, cfg, clock)
		require.NoError(t, err)
		assert.IsType(t, &SQLStore{}, a.local)
		assert.NoError(t, a.Close())
	})

	t.Run("Unknown Backend", func(t *testing.T) {
		_, err := Open(ctx, config.StorageConfig{Backend: "etcd"}, clock)
		assert.ErrorContains(t, err, "unknown storage backend")
	})
}
