package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyPrefix = "stayawake:idem:"
	pendingMarker     = "pending"

	// DefaultIdempotencyTTL is how long a stored response is replayed.
	DefaultIdempotencyTTL = 24 * time.Hour
)

// ErrIdempotencyInProgress is returned while the first request with a key
// is still being handled.
var ErrIdempotencyInProgress = errors.New("request with this idempotency key is in progress")

// StoredResponse is a response kept for replay.
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// BeginIdempotent claims key. It returns a stored response when the key
// was already completed, nil when the caller now owns the key, and
// ErrIdempotencyInProgress when another request holds it.
func (c *Cache) BeginIdempotent(ctx context.Context, key string, ttl time.Duration) (*StoredResponse, error) {
	full := idempotencyPrefix + key

	claimed, err := c.client.SetNX(ctx, full, pendingMarker, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		return nil, nil
	}

	raw, err := c.client.Get(ctx, full).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; try once more.
		return c.BeginIdempotent(ctx, key, ttl)
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	if raw == pendingMarker {
		return nil, ErrIdempotencyInProgress
	}

	var stored StoredResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &stored, nil
}

// CompleteIdempotent stores the response for key.
func (c *Cache) CompleteIdempotent(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode stored response: %w", err)
	}
	if err := c.client.Set(ctx, idempotencyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	return nil
}

// AbortIdempotent releases key so the request can be retried.
func (c *Cache) AbortIdempotent(ctx context.Context, key string) error {
	return c.client.Del(ctx, idempotencyPrefix+key).Err()
}
