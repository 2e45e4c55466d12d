package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// KeyPrefix namespaces every Redis key written by this package
const KeyPrefix = "calltracker:"

// LoadFunc fetches a value from the backing store on a miss
type LoadFunc[T any] func(ctx context.Context) (T, error)

// Options configures a Tiered cache
type Options[T any] struct {
	// Name labels metrics and Redis keys
	Name string
	Size int
	TTL  time.Duration
	// Redis enables the shared tier when non-nil
	Redis *redis.Client
	// Clone copies values out of the local tier so callers never share them
	Clone   func(T) T
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Tiered is a read-through cache with an in-process expirable LRU in front of
// an optional Redis tier. Concurrent misses for one key share a single load.
// Errors from the loader are returned and never cached.
type Tiered[T any] struct {
	name    string
	ttl     time.Duration
	local   *lru.LRU[string, T]
	redis   *redis.Client
	clone   func(T) T
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *observability.Logger
}

// New creates a tiered cache
func New[T any](opts Options[T]) *Tiered[T] {
	if opts.Size <= 0 {
		opts.Size = 10000
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.Clone == nil {
		opts.Clone = func(v T) T { return v }
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	return &Tiered[T]{
		name:    opts.Name,
		ttl:     opts.TTL,
		local:   lru.NewLRU[string, T](opts.Size, nil, opts.TTL),
		redis:   opts.Redis,
		clone:   opts.Clone,
		metrics: opts.Metrics,
		logger:  opts.Logger.WithField("cache", opts.Name),
	}
}

// Get returns the value for key, loading it on a miss. Concurrent misses share
// one load, which runs detached from any single caller's cancellation; each
// caller still returns as soon as its own ctx is done.
func (c *Tiered[T]) Get(ctx context.Context, key string, load LoadFunc[T]) (T, error) {
	if v, ok := c.local.Get(key); ok {
		c.metrics.CacheHit(c.name, "l1")
		return c.clone(v), nil
	}

	var zero T
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if v, ok := c.fromRedis(detached, key); ok {
			c.metrics.CacheHit(c.name, "l2")
			c.local.Add(key, v)
			return v, nil
		}

		c.metrics.CacheMiss(c.name)
		v, err := load(detached)
		if err != nil {
			return v, err
		}
		c.local.Add(key, v)
		c.toRedis(detached, key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return c.clone(res.Val.(T)), nil
	}
}

// Invalidate drops key from both tiers
func (c *Tiered[T]) Invalidate(ctx context.Context, key string) {
	c.local.Remove(key)
	c.group.Forget(key)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, c.redisKey(key)).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to invalidate redis entry")
	}
}

// Purge empties the local tier
func (c *Tiered[T]) Purge() {
	c.local.Purge()
}

// Len reports the number of locally cached entries
func (c *Tiered[T]) Len() int {
	return c.local.Len()
}

func (c *Tiered[T]) redisKey(key string) string {
	return KeyPrefix + c.name + ":" + key
}

// fromRedis treats every Redis failure as a miss
func (c *Tiered[T]) fromRedis(ctx context.Context, key string) (T, bool) {
	var zero T
	if c.redis == nil {
		return zero, false
	}

	data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
	if err == redis.Nil {
		return zero, false
	} else if err != nil {
		c.logger.WithError(err).Warn("Redis get failed")
		return zero, false
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		// Drop corrupt data so the next read reloads it
		c.redis.Del(ctx, c.redisKey(key))
		return zero, false
	}
	return v, true
}

func (c *Tiered[T]) toRedis(ctx context.Context, key string, v T) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to marshal cache entry")
		return
	}
	if err := c.redis.Set(ctx, c.redisKey(key), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Redis set failed")
	}
}
