// Package backends opens the storage backend selected by configuration.
package backends

import (
	"context"
	"fmt"

	"github.com/leozw/presence-guardian/internal/config"
	"github.com/leozw/presence-guardian/internal/storage"
	"github.com/leozw/presence-guardian/internal/storage/file"
	"github.com/leozw/presence-guardian/internal/storage/redis"
	"github.com/leozw/presence-guardian/internal/storage/sqlstore"
)

func Open(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Driver {
	case config.DriverFile:
		return file.New(cfg.Path, cfg.LockTimeout)
	case config.DriverPostgres:
		return sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.DSN, sqlstore.WithLockTimeout(cfg.LockTimeout))
	case config.DriverSQLite:
		return sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.DSN, sqlstore.WithLockTimeout(cfg.LockTimeout))
	case config.DriverRedis:
		backend := redis.New(redis.NewClient(cfg.RedisURL), cfg.RedisKey, redis.WithLockTimeout(cfg.LockTimeout))
		if err := backend.Ping(ctx); err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return backend, nil
	case config.DriverMemory:
		return storage.NewMemoryBackend(nil), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
