package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnelcore/internal/infra/cache/redis"
	"funnelcore/pkg/domain"
)

func newCache(t *testing.T, opts ...redis.Option) (*miniredis.Miniredis, *redis.TimelineCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redis.NewFromClient(client, opts...)
}

func events(n int) []domain.TransitionEvent {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	stages := domain.Stages()
	out := make([]domain.TransitionEvent, n)
	for i := range out {
		out[i] = domain.TransitionEvent{From: stages[i], To: stages[i+1], At: base.Add(time.Duration(i) * time.Hour), AgentID: "a1"}
	}
	return out
}

func TestTimelineCache_MissThenHit(t *testing.T) {
	ctx := context.Background()
	_, cache := newCache(t)

	got, ok, err := cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	written, err := cache.Store(ctx, "p1", events(2))
	require.NoError(t, err)
	assert.True(t, written)

	got, ok, err = cache.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, domain.StageMeetingScheduled, got[1].To)
	assert.True(t, got[1].At.Equal(events(2)[1].At))
}

func TestTimelineCache_EmptyTimelineIsAHit(t *testing.T) {
	ctx := context.Background()
	_, cache := newCache(t)
	_, err := cache.Store(ctx, "p1", nil)
	require.NoError(t, err)
	got, ok, err := cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestTimelineCache_NeverShrinks(t *testing.T) {
	ctx := context.Background()
	_, cache := newCache(t)
	_, err := cache.Store(ctx, "p1", events(3))
	require.NoError(t, err)

	written, err := cache.Store(ctx, "p1", events(1))
	require.NoError(t, err)
	assert.False(t, written, "stale fill must not replace a longer timeline")

	got, _, err := cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	written, err = cache.Store(ctx, "p1", events(4))
	require.NoError(t, err)
	assert.True(t, written)
}

func TestTimelineCache_TTLAndInvalidate(t *testing.T) {
	ctx := context.Background()
	mr, cache := newCache(t, redis.WithTTL(time.Minute), redis.WithPrefix("test:"))
	_, err := cache.Store(ctx, "p1", events(1))
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:p1"))
	assert.Equal(t, time.Minute, mr.TTL("test:p1"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = cache.Store(ctx, "p1", events(1))
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "p1"))
	_, ok, err = cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimelineCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr, cache := newCache(t)
	mr.HSet("funnel:timeline:p1", "len", "1", "data", "{not json")
	_, _, err := cache.Get(ctx, "p1")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := redis.Open(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	_, err = redis.Open(context.Background(), "://bad")
	assert.Error(t, err)
}
