package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter counts requests per key in fixed Redis windows, so limits
// are shared across instances.
type RedisRateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisRateLimiter creates a Redis-backed limiter
func NewRedisRateLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "calltracker:ratelimit"
	}
	return &RedisRateLimiter{
		redis:  client,
		config: config.normalized(),
		prefix: prefix,
	}
}

func (rl *RedisRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts one request for key. On a Redis error the request is allowed
// and the error returned.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := rl.key(key)
	ceiling := rl.config.RequestsPerWindow + rl.config.BurstSize

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{Allowed: true, Limit: ceiling}, fmt.Errorf("redis error: %w", err)
	}
	// The first request of a window starts its clock
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return Decision{Allowed: true, Limit: ceiling}, fmt.Errorf("redis error: %w", err)
		}
	}

	d := Decision{Limit: ceiling, Allowed: count <= int64(ceiling)}
	if d.Allowed {
		d.Remaining = ceiling - int(count)
		return d, nil
	}

	ttl, err := rl.redis.PTTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = rl.config.WindowDuration
	}
	d.RetryAfter = ttl
	return d, nil
}

// Reset clears the window for key
func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// TTL returns the time until the window for key resets
func (rl *RedisRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}
