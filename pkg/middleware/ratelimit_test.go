package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitConfig_Normalized(t *testing.T) {
	cfg := RateLimitConfig{}.normalized()
	assert.Equal(t, DefaultRateLimitConfig(), cfg)

	cfg = RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Second, BurstSize: -3}.normalized()
	assert.Equal(t, 5, cfg.RequestsPerWindow)
	assert.Equal(t, 0, cfg.BurstSize)
}

func TestLocalRateLimiter_Allow(t *testing.T) {
	rl := NewLocalRateLimiter(RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute, BurstSize: 1})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d, err := rl.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 4, d.Limit)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 20*time.Second, d.RetryAfter, float64(time.Second))

	// Keys are independent
	d, err = rl.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// One token refills every 20 seconds
	now = now.Add(21 * time.Second)
	d, err = rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLocalRateLimiter_Cleanup(t *testing.T) {
	rl := NewLocalRateLimiter(RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute})
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.Allow(context.Background(), "ip:old")
	now = now.Add(90 * time.Second)
	rl.Allow(context.Background(), "ip:new")
	now = now.Add(40 * time.Second)

	rl.Cleanup()
	assert.Equal(t, 1, rl.Len())
}

func TestLocalRateLimiter_Concurrency(t *testing.T) {
	rl := NewLocalRateLimiter(RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Hour})
	ctx := context.Background()

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := rl.Allow(ctx, "ip:shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestLocalRateLimiter_StartCleanupStops(t *testing.T) {
	rl := NewLocalRateLimiter(RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	rl.StartCleanup(ctx, nil)

	rl.Allow(context.Background(), "ip:gone")
	assert.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 10*time.Millisecond)
	cancel()
}

func TestRateLimitByIP(t *testing.T) {
	rl := NewLocalRateLimiter(RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	handler := RateLimitByIP(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(remoteAddr, forwarded string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/invitations/abc", nil)
		r.RemoteAddr = remoteAddr
		if forwarded != "" {
			r.Header.Set("X-Forwarded-For", forwarded)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	w := serve("10.0.0.1:5000", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, serve("10.0.0.1:5001", "").Code)

	w = serve("10.0.0.1:5002", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.Contains(t, w.Body.String(), "rate_limited")

	// The first forwarded hop is the client
	assert.Equal(t, http.StatusOK, serve("10.0.0.1:5003", "203.0.113.9, 10.0.0.1").Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return Decision{}, assert.AnError
}

func TestRateLimitByIP_FailsOpen(t *testing.T) {
	handler := RateLimitByIP(brokenLimiter{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func setupRedisLimiter(t *testing.T, cfg RateLimitConfig) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRateLimiter(client, cfg, ""), mr
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	rl, mr := setupRedisLimiter(t, RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute, BurstSize: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
	assert.Equal(t, time.Minute, mr.TTL("calltracker:ratelimit:ip:1.2.3.4"))

	d, err := rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	// The window expires
	mr.FastForward(time.Minute + time.Second)
	d, err = rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, rl.Reset(ctx, "ip:1.2.3.4"))
	assert.False(t, mr.Exists("calltracker:ratelimit:ip:1.2.3.4"))
}

func TestRedisRateLimiter_RedisDown(t *testing.T) {
	rl, mr := setupRedisLimiter(t, DefaultRateLimitConfig())
	mr.Close()

	d, err := rl.Allow(context.Background(), "ip:1.2.3.4")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}
