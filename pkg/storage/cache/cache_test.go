package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/calltrackerpro/calltracker/pkg/storage/memory"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := storage.DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.RedisURL = "not-a-url"
	_, err := NewRedisClient(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewRedisClient_ConnectionFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := storage.DefaultConfig()
	cfg.RedisURL = "redis://" + addr
	_, err := NewRedisClient(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

type widget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestTiered_LocalOnly(t *testing.T) {
	c := New(Options[*widget]{Name: "widget", TTL: time.Minute})
	ctx := context.Background()
	var loads int32

	load := func(ctx context.Context) (*widget, error) {
		atomic.AddInt32(&loads, 1)
		return &widget{Name: "a", Count: 1}, nil
	}

	for i := 0; i < 3; i++ {
		w, err := c.Get(ctx, "a", load)
		require.NoError(t, err)
		assert.Equal(t, "a", w.Name)
	}
	assert.Equal(t, int32(1), loads)
	assert.Equal(t, 1, c.Len())

	c.Invalidate(ctx, "a")
	_, err := c.Get(ctx, "a", load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads)
}

func TestTiered_ErrorsAreNotCached(t *testing.T) {
	c := New(Options[*widget]{Name: "widget"})
	ctx := context.Background()
	var loads int32

	failing := func(ctx context.Context) (*widget, error) {
		atomic.AddInt32(&loads, 1)
		return nil, storage.ErrNotFound
	}

	_, err := c.Get(ctx, "missing", failing)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = c.Get(ctx, "missing", failing)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, int32(2), loads)
	assert.Zero(t, c.Len())
}

func TestTiered_ConcurrentMissesShareOneLoad(t *testing.T) {
	c := New(Options[*widget]{Name: "widget"})
	ctx := context.Background()

	var loads int32
	release := make(chan struct{})
	load := func(ctx context.Context) (*widget, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return &widget{Name: "slow"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := c.Get(ctx, "slow", load)
			assert.NoError(t, err)
			assert.Equal(t, "slow", w.Name)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), loads)
}

func TestTiered_CancelledCallerDoesNotFailOthers(t *testing.T) {
	c := New(Options[*widget]{Name: "widget"})

	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (*widget, error) {
		close(started)
		select {
		case <-release:
			return &widget{Name: "shared"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Get(first, "shared", load)
		firstErr <- err
	}()
	<-started

	other := make(chan *widget, 1)
	go func() {
		w, err := c.Get(context.Background(), "shared", load)
		assert.NoError(t, err)
		other <- w
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	select {
	case w := <-other:
		require.NotNil(t, w)
		assert.Equal(t, "shared", w.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting caller did not get the shared load")
	}
}

func TestTiered_RedisTier(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	first := New(Options[*widget]{Name: "widget", Redis: client, TTL: time.Minute})
	_, err := first.Get(ctx, "a", func(ctx context.Context) (*widget, error) {
		return &widget{Name: "a", Count: 7}, nil
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists(KeyPrefix+"widget:a"))
	assert.Equal(t, time.Minute, mr.TTL(KeyPrefix+"widget:a"))

	// A second process sees the entry without loading
	second := New(Options[*widget]{Name: "widget", Redis: client})
	w, err := second.Get(ctx, "a", func(ctx context.Context) (*widget, error) {
		return nil, errors.New("should not load")
	})
	require.NoError(t, err)
	assert.Equal(t, 7, w.Count)

	second.Invalidate(ctx, "a")
	assert.False(t, mr.Exists(KeyPrefix+"widget:a"))
}

func TestTiered_CorruptRedisEntryIsDropped(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(KeyPrefix+"widget:a", "{not json"))

	c := New(Options[*widget]{Name: "widget", Redis: client})
	w, err := c.Get(ctx, "a", func(ctx context.Context) (*widget, error) {
		return &widget{Name: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", w.Name)

	stored, err := mr.Get(KeyPrefix + "widget:a")
	require.NoError(t, err)
	assert.Contains(t, stored, "fresh")
}

func TestTiered_RedisDownFallsBackToLoader(t *testing.T) {
	client, mr := setupRedis(t)
	mr.Close()

	c := New(Options[*widget]{Name: "widget", Redis: client})
	w, err := c.Get(context.Background(), "a", func(ctx context.Context) (*widget, error) {
		return &widget{Name: "db"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "db", w.Name)
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateOrganization(ctx, &orgs.Organization{ID: "org-a", Name: "Acme", Plan: orgs.PlanFree, IsActive: true}))

	p := auth.NewPrincipal("agent-1", "org-a", "agent@acme.test", auth.RoleAgent)
	p.PasswordHash = "secret-hash"
	require.NoError(t, store.CreatePrincipal(ctx, p))

	dir := NewDirectory(store, storage.DefaultConfig(), nil, nil, nil)

	t.Run("principals are cached without hashes and returned as copies", func(t *testing.T) {
		got, err := dir.GetPrincipal(ctx, "agent-1")
		require.NoError(t, err)
		assert.Empty(t, got.PasswordHash)

		got.Role = auth.RoleOrgAdmin
		again, err := dir.GetPrincipal(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAgent, again.Role)
	})

	t.Run("write through invalidates", func(t *testing.T) {
		org, err := dir.GetOrganization(ctx, "org-a")
		require.NoError(t, err)
		assert.Equal(t, orgs.PlanFree, org.Plan)

		org.Plan = orgs.PlanBusiness
		require.NoError(t, dir.UpdateOrganization(ctx, org))

		org, err = dir.GetOrganization(ctx, "org-a")
		require.NoError(t, err)
		assert.Equal(t, orgs.PlanBusiness, org.Plan)
	})

	t.Run("out of band change needs explicit invalidation", func(t *testing.T) {
		stored, err := store.GetPrincipal(ctx, "agent-1")
		require.NoError(t, err)
		stored.IsActive = false
		require.NoError(t, store.UpdatePrincipal(ctx, stored))

		cached, err := dir.GetPrincipal(ctx, "agent-1")
		require.NoError(t, err)
		assert.True(t, cached.IsActive)

		dir.InvalidatePrincipal(ctx, "agent-1")
		fresh, err := dir.GetPrincipal(ctx, "agent-1")
		require.NoError(t, err)
		assert.False(t, fresh.IsActive)
	})

	t.Run("misses are not cached", func(t *testing.T) {
		_, err := dir.GetOrganization(ctx, "org-z")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
