package status

import (
	"context"
	"fmt"

	"transcoder/internal/config"
)

// Open constructs the Store selected by cfg.Status.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Status.Backend {
	case config.BackendMemory:
		return NewMemory(), nil
	case config.BackendSQLite, "":
		return OpenSQLite(ctx, cfg.Status.SQLitePath)
	case config.BackendRedis:
		return OpenRedis(ctx, RedisConfig{
			Addr:      cfg.Status.RedisAddr,
			Username:  cfg.Status.RedisUsername,
			Password:  cfg.Status.RedisPassword,
			DB:        cfg.Status.RedisDB,
			KeyPrefix: cfg.Status.KeyPrefix,
		})
	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg.Status.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported status backend %q", cfg.Status.Backend)
	}
}
