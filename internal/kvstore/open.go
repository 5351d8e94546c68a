package kvstore

import (
	"context"
	"fmt"

	"github.com/kyleseneker/pinguard/internal/config"
)

// Open builds an Adapter whose local area uses the configured backend. The
// session area is always in memory.
func Open(ctx context.Context, cfg config.StorageConfig, clock Clock) (*Adapter, error) {
	var (
		local Store
		err   error
	)
	switch cfg.Backend {
	case "memory":
		local = NewMemoryStore()
	case "file", "":
		local, err = NewFileStore(cfg.Dir, Local)
	case "sql":
		local, err = NewSQLStore(cfg.SQLDriver, cfg.DSN, Local)
	case "redis":
		local, err = NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisNamespace, Local)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Backend, err)
	}
	return NewAdapter(clock, local, NewMemoryStore()), nil
}
