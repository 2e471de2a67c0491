package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/internal/infrastructure/messaging"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	cfg := DefaultConfig()
	cfg.URL = "redis://" + addr + "/15"
	cache, err := NewCache(cfg)
	require.NoError(t, err)
	require.NoError(t, cache.FlushDB(context.Background()))
	t.Cleanup(func() { cache.Close() })
	return cache
}

type cachedAnalysis struct {
	Priority string `json:"priority"`
	Total    int    `json:"total"`
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "analysis:m1:k4", AnalysisKey("m1", 4))
	assert.Equal(t, "lock:material:m1", LockKey("material:m1"))
}

func TestConfig_InvalidURL(t *testing.T) {
	_, err := NewCache(Config{URL: "memcached://nope"})
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestConfig_Addr(t *testing.T) {
	assert.Equal(t, "localhost:6379", DefaultConfig().Addr())
}

func TestCache_GetMiss(t *testing.T) {
	cache := newTestCache(t)
	var v cachedAnalysis
	err := cache.Get(context.Background(), "analysis:none:k1", &v)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMaterialLock_Conflict(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	lockA := NewMaterialLock(cache, time.Minute)
	lockB := NewMaterialLock(cache, time.Minute)

	unlock, err := lockA.Lock(ctx, "m1")
	require.NoError(t, err)

	_, err = lockB.Lock(ctx, "m1")
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = lockB.Lock(ctx, "m2")
	require.NoError(t, err)

	unlock()
	unlockB, err := lockB.Lock(ctx, "m1")
	require.NoError(t, err)
	unlockB()
}

func TestMaterialLock_StaleUnlockKeepsNewHolder(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	lock := NewMaterialLock(cache, 50*time.Millisecond)

	staleUnlock, err := lock.Lock(ctx, "m1")
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)

	unlock, err := lock.Lock(ctx, "m1")
	require.NoError(t, err)
	defer unlock()

	staleUnlock()
	_, err = NewMaterialLock(cache, time.Minute).Lock(ctx, "m1")
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestAnalysisCache_RoundTripAndInvalidation(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	ac := NewAnalysisCache(cache, time.Minute, logger.Nop())

	ac.Store(ctx, "m1", 3, cachedAnalysis{Priority: "diversity", Total: 12})
	ac.Store(ctx, "m2", 3, cachedAnalysis{Priority: "balance", Total: 9})

	var got cachedAnalysis
	require.True(t, ac.Load(ctx, "m1", 3, &got))
	assert.Equal(t, "diversity", got.Priority)
	assert.False(t, ac.Load(ctx, "m1", 4, &got))

	bus := messaging.New(messaging.DefaultOptions())
	defer bus.Close()
	require.NoError(t, ac.Subscribe(bus))

	require.NoError(t, bus.Publish(shared.NewGroupsFormedEvent("m1", 3, "heterogeneous", "diversity", 0.9)))
	assert.False(t, ac.Load(ctx, "m1", 3, &got))
	assert.True(t, ac.Load(ctx, "m2", 3, &got))

	require.NoError(t, bus.Publish(shared.NewProfilesClusteredEvent("run", 10, 3, 4, 3)))
	assert.False(t, ac.Load(ctx, "m2", 3, &got))
	assert.Equal(t, "closed", ac.BreakerState())
}
