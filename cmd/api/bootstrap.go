package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/stayawake/stayawake/internal/cache"
	"github.com/stayawake/stayawake/internal/config"
	"github.com/stayawake/stayawake/internal/handler"
	"github.com/stayawake/stayawake/internal/repository"
	"github.com/stayawake/stayawake/internal/repository/memory"
	"github.com/stayawake/stayawake/migrations"
)

const connectBackoffBase = 500 * time.Millisecond

// storeHandle is the selected storage backend and its cleanup.
type storeHandle struct {
	repository.Store
	close func()
}

// connectBackoff retries with exponential delays, attempts times in total.
func connectBackoff(attempts int) retry.Backoff {
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(connectBackoffBase))
}

// openStore connects to the configured backend. Postgres is migrated
// first when AUTO_MIGRATE is set.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storeHandle, error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn("using in-memory store", "reason", "STORAGE_DRIVER=memory", "persistent", false)
		return &storeHandle{Store: memory.New(), close: func() {}}, nil
	}

	var repo *repository.Repository
	err := retry.Do(ctx, connectBackoff(cfg.ConnectAttempts), func(ctx context.Context) error {
		r, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("database not ready, retrying", "error", sanitizeError(err, cfg.DatabaseURL))
			return retry.RetryableError(err)
		}
		repo = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	logger.Info("connected to database")

	if cfg.AutoMigrate {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			repo.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database migrations applied")
	}

	return &storeHandle{Store: repo, close: repo.Close}, nil
}

// openCache connects to Redis when REDIS_URL is set. A nil Cache with a
// nil error means Redis is not configured.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cache.Cache, error) {
	if cfg.RedisURL == "" {
		logger.Warn("Redis not configured",
			"rate_limiting", false,
			"idempotency", false,
			"probe_leases", false,
		)
		return nil, nil
	}

	var c *cache.Cache
	err := retry.Do(ctx, connectBackoff(cfg.ConnectAttempts), func(ctx context.Context) error {
		client, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis not ready, retrying", "error", sanitizeError(err, cfg.RedisURL))
			return retry.RetryableError(err)
		}
		c = client
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("connected to Redis")
	return c, nil
}

// signInThrottle builds the per-email sign-in limit. Without Redis the
// limiter stays nil and sign-in is not throttled.
func signInThrottle(cfg *config.Config, c *cache.Cache) handler.SignInThrottle {
	th := handler.SignInThrottle{
		RatePerSecond: float64(cfg.SignInRatePerMinute) / 60,
		Burst:         cfg.SignInBurst,
	}
	if c != nil {
		th.Limiter = c
	}
	return th
}
