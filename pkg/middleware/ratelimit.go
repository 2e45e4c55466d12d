package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/httputil"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns the limits applied to the public invitation
// endpoints
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 30,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

func (c RateLimitConfig) normalized() RateLimitConfig {
	defaults := DefaultRateLimitConfig()
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = defaults.RequestsPerWindow
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = defaults.WindowDuration
	}
	if c.BurstSize < 0 {
		c.BurstSize = 0
	}
	return c
}

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request keyed by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// LocalRateLimiter keeps one token bucket per key in process memory
type LocalRateLimiter struct {
	config   RateLimitConfig
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
	mu       sync.Mutex
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter creates an in-memory limiter
func NewLocalRateLimiter(config RateLimitConfig) *LocalRateLimiter {
	config = config.normalized()
	return &LocalRateLimiter{
		config:   config,
		limit:    rate.Limit(float64(config.RequestsPerWindow) / config.WindowDuration.Seconds()),
		burst:    config.RequestsPerWindow + config.BurstSize,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow consumes one token for key
func (rl *LocalRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := rl.now()

	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()

	d := Decision{Limit: rl.burst}
	if v.limiter.AllowN(now, 1) {
		d.Allowed = true
		d.Remaining = int(math.Max(0, math.Floor(v.limiter.TokensAt(now))))
		return d, nil
	}

	// Time until one token is available again
	deficit := 1 - v.limiter.TokensAt(now)
	d.RetryAfter = time.Duration(deficit / float64(rl.limit) * float64(time.Second))
	return d, nil
}

// Cleanup drops buckets idle for longer than two windows
func (rl *LocalRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-2 * rl.config.WindowDuration)
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
		}
	}
}

// Len reports the number of tracked keys
func (rl *LocalRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// StartCleanup runs Cleanup once per window until ctx is done
func (rl *LocalRateLimiter) StartCleanup(ctx context.Context, logger *observability.Logger) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		defer observability.RecoverPanic(logger, "rate limiter cleanup")
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitByIP throttles requests per client IP. Limiter errors let the
// request through.
func RateLimitByIP(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + audit.ClientIP(r)

			d, err := limiter.Allow(r.Context(), key)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				retry := int(math.Ceil(d.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("X-RateLimit-Remaining", "0")
				httputil.WriteTooManyRequests(w, fmt.Sprintf("rate limit exceeded, retry in %ds", retry))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
