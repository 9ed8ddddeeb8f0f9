package core

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	rediscache "funnelcore/internal/infra/cache/redis"
	"funnelcore/pkg/domain"
)

func newRedisCache(t *testing.T) (*miniredis.Miniredis, *rediscache.TimelineCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, rediscache.NewFromClient(client)
}

func TestTimelineWithoutCache(t *testing.T) {
	f := newFixture(t)
	p := f.prospect(t)
	events, err := f.svc.GetTimeline(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if events == nil || len(events) != 0 {
		t.Fatalf("expected empty non-nil timeline, got %v", events)
	}
	f.advance(t, p.ID, step{domain.StageInContact, f.prospector})
	events, err = f.svc.GetTimeline(context.Background(), p.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("timeline after transition: %v %v", events, err)
	}
	if _, err := f.svc.GetTimeline(context.Background(), "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTimelineCacheRefreshedAfterCommit(t *testing.T) {
	_, cache := newRedisCache(t)
	f := newFixture(t, WithTimelineCache(cache))
	ctx := context.Background()
	p := f.prospect(t)

	f.advance(t, p.ID, step{domain.StageInContact, f.prospector}, step{domain.StageMeetingScheduled, f.closer})
	cached, ok, err := cache.Get(ctx, p.ID)
	if err != nil || !ok {
		t.Fatalf("expected cached timeline after commit: %v %v", ok, err)
	}
	if len(cached) != 2 || cached[1].To != domain.StageMeetingScheduled {
		t.Fatalf("unexpected cached timeline %+v", cached)
	}

	events, err := f.svc.GetTimeline(ctx, p.ID)
	if err != nil || len(events) != 2 {
		t.Fatalf("timeline: %v %v", events, err)
	}
}

func TestTimelineReadThroughFillsCache(t *testing.T) {
	_, cache := newRedisCache(t)
	f := newFixture(t)
	ctx := context.Background()
	p := f.prospect(t)
	f.advance(t, p.ID, step{domain.StageInContact, f.prospector})

	cached := NewService(f.adapter, WithTimelineCache(cache))
	if _, ok, _ := cache.Get(ctx, p.ID); ok {
		t.Fatalf("cache should start empty")
	}
	events, err := cached.GetTimeline(ctx, p.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("timeline: %v %v", events, err)
	}
	filled, ok, err := cache.Get(ctx, p.ID)
	if err != nil || !ok || len(filled) != 1 {
		t.Fatalf("expected filled cache: %v %v %v", filled, ok, err)
	}
}

// countingCache wraps a cache and fails reads on demand.
type countingCache struct {
	TimelineCache
	hits, stores, invalidations int
	failGet, failStore          bool
}

func (c *countingCache) Get(ctx context.Context, id string) ([]domain.TransitionEvent, bool, error) {
	if c.failGet {
		return nil, false, errors.New("cache down")
	}
	events, ok, err := c.TimelineCache.Get(ctx, id)
	if ok {
		c.hits++
	}
	return events, ok, err
}

func (c *countingCache) Store(ctx context.Context, id string, events []domain.TransitionEvent) (bool, error) {
	if c.failStore {
		return false, errors.New("cache down")
	}
	c.stores++
	return c.TimelineCache.Store(ctx, id, events)
}

func (c *countingCache) Invalidate(ctx context.Context, id string) error {
	c.invalidations++
	return c.TimelineCache.Invalidate(ctx, id)
}

func TestTimelineCacheFailuresFallBackToDatabase(t *testing.T) {
	_, redis := newRedisCache(t)
	cache := &countingCache{TimelineCache: redis}
	logger := &captureLogger{}
	f := newFixture(t, WithTimelineCache(cache), WithLogger(logger))
	ctx := context.Background()
	p := f.prospect(t)

	cache.failStore = true
	f.advance(t, p.ID, step{domain.StageInContact, f.prospector})
	if cache.invalidations != 1 {
		t.Fatalf("failed refresh must invalidate, got %d", cache.invalidations)
	}
	if !logger.has("w:timeline cache refresh failed") {
		t.Fatalf("expected refresh warning, got %v", logger.calls)
	}

	cache.failStore = false
	cache.failGet = true
	events, err := f.svc.GetTimeline(ctx, p.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("timeline with broken cache: %v %v", events, err)
	}

	cache.failGet = false
	if _, err := f.svc.GetTimeline(ctx, p.ID); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("expected a cache hit after the fill, got %d", cache.hits)
	}
}
