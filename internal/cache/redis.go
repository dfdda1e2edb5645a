// Package cache provides the Redis access layer: IP rate limiting,
// probe leases, webhook event dedupe, and idempotent request replay.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// Pool sizing. Every in-flight probe may hold a lease round trip, so the
// pool stays above the default scheduler concurrency.
const (
	poolSize        = 40
	minIdleConns    = 2
	poolTimeout     = 4 * time.Second
	connMaxIdleTime = 5 * time.Minute
)

// Cache wraps a Redis client. Each Cache has its own owner token, which
// marks the probe leases it holds.
type Cache struct {
	client *redis.Client
	owner  string
}

// New parses redisURL, applies the pool settings and pings the server.
func New(ctx context.Context, redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = poolSize
	opt.MinIdleConns = minIdleConns
	opt.PoolTimeout = poolTimeout
	opt.ConnMaxIdleTime = connMaxIdleTime

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewFromClient(client), nil
}

// NewFromClient wraps an existing client with a fresh owner token.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client, owner: ulid.Make().String()}
}

// Ping implements the readiness check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the raw client for test fixtures.
func (c *Cache) Client() *redis.Client {
	return c.client
}
