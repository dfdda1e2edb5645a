package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rate limit scopes. Each scope has its own bucket per identity.
const (
	ScopeIP     = "ip"
	ScopeSignIn = "signin"
)

const (
	rateLimitPrefix = "stayawake:ratelimit:"
	// rateLimitMinTTL keeps idle buckets around long enough to refill.
	rateLimitMinTTL = 10 * time.Second
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// tokenBucketScript refills and consumes in one atomic step. Time is in
// milliseconds so sub-second rates refill smoothly.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])      -- tokens per second
	local burst = tonumber(ARGV[2])     -- bucket capacity
	local now = tonumber(ARGV[3])       -- milliseconds
	local ttl = tonumber(ARGV[4])       -- seconds

	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1]) or burst
	local last_update = tonumber(data[2]) or now

	local elapsed = math.max(0, now - last_update) / 1000
	tokens = math.min(burst, tokens + (elapsed * rate))

	local allowed = 0
	local retry_ms = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	else
		retry_ms = math.ceil((1 - tokens) / rate * 1000)
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, ttl)

	return {allowed, retry_ms, math.floor(tokens)}
`)

// CheckIPRateLimit checks and updates the rate limit for an IP address.
// IP is hashed to avoid storing raw IP addresses.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	return c.CheckRateLimit(ctx, ScopeIP, ip, float64(ratePerSecond), burst)
}

// CheckRateLimit consumes one token from the bucket of identity within
// scope. The identity is hashed before it reaches Redis. Redis errors fail
// open.
func (c *Cache) CheckRateLimit(ctx context.Context, scope, identity string, ratePerSecond float64, burst int) (*RateLimitResult, error) {
	if ratePerSecond <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: time.Now()}, nil
	}

	key := rateLimitPrefix + scope + ":" + hashIdentity(identity)
	return c.checkRateLimit(ctx, key, ratePerSecond, burst, bucketTTL(ratePerSecond, burst))
}

func (c *Cache) checkRateLimit(ctx context.Context, key string, rate float64, burst, ttl int) (*RateLimitResult, error) {
	now := time.Now()

	result, err := tokenBucketScript.Run(ctx, c.client,
		[]string{key},
		rate, burst, now.UnixMilli(), ttl,
	).Int64Slice()
	if err != nil {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: int64(burst),
			ResetAt:   now.Add(time.Minute),
		}, nil
	}

	retryAfter := time.Duration(result[1]) * time.Millisecond
	return &RateLimitResult{
		Allowed:    result[0] == 1,
		Remaining:  result[2],
		ResetAt:    now.Add(time.Duration(float64(time.Second) / rate)),
		RetryAfter: retryAfter,
	}, nil
}

// bucketTTL is the time a drained bucket needs to refill, floored at
// rateLimitMinTTL, in whole seconds.
func bucketTTL(rate float64, burst int) int {
	refill := time.Duration(float64(burst) / rate * float64(time.Second))
	if refill < rateLimitMinTTL {
		refill = rateLimitMinTTL
	}
	return int(math.Ceil(refill.Seconds()))
}

// hashIdentity creates a truncated SHA256 hash of an identity such as an
// IP address or email.
func hashIdentity(identity string) string {
	hash := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(hash[:8])
}
