// Package bootstrap wires storage and coordination backends from config for
// the binaries under cmd/.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/officebet/pool-engine/internal/config"
	"github.com/officebet/pool-engine/internal/store"
)

// Backends holds the opened store and optional Redis client. Close releases
// them in reverse order of opening.
type Backends struct {
	Store store.Store
	Redis *redis.Client

	cleanup []func()
}

// Close releases every backend.
func (b *Backends) Close() {
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		b.cleanup[i]()
	}
}

// Open connects the configured primary store, migrating its schema, and
// wraps it in the Redis read-through cache when redis.url is set.
func Open(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.cleanup = append(b.cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		b.Store = pg
		slog.Info("connected to PostgreSQL")

	case config.DriverSQLite:
		lite, err := store.NewSQLiteStore(cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		b.cleanup = append(b.cleanup, func() { lite.Close() })
		b.Store = lite
		slog.Info("opened SQLite store", "path", cfg.Storage.DSN)

	default:
		slog.Warn("using in-memory store (data will not persist)")
		b.Store = store.NewMemoryStore()
	}

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		b.Redis = redis.NewClient(opt)
		b.cleanup = append(b.cleanup, func() { b.Redis.Close() })
		b.Store = store.NewCachedStore(b.Store, b.Redis, cfg.Redis.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL)
	}

	return b, nil
}
