package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	leasePrefix  = "stayawake:lease:"
	dedupePrefix = "stayawake:dedupe:"
)

// releaseScript deletes a lease only if this process still holds it.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// AcquireLease takes an exclusive lease on key for ttl. It reports false
// when another holder has it.
func (c *Cache) AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, leasePrefix+key, c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

// ReleaseLease gives up a lease held by this process. Releasing a lease
// that expired or passed to another holder is a no-op.
func (c *Cache) ReleaseLease(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, c.client, []string{leasePrefix + key}, c.owner).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// MarkProcessed records key as handled for ttl. It reports false when key
// was already recorded.
func (c *Cache) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, dedupePrefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return ok, nil
}

// Forget removes a processed marker so the key can be handled again.
func (c *Cache) Forget(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, dedupePrefix+key).Err(); err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	return nil
}
