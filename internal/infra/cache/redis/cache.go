// Package redis caches prospect timelines in Redis. Entries are refreshed
// after every committed transition and filled on read misses; a write never
// replaces a cached timeline with a shorter one, so a slow reader cannot
// clobber a newer refresh.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"funnelcore/pkg/domain"
)

const defaultPrefix = "funnel:timeline:"

// storeIfNotShorter writes the hash only when the cached event count does not
// exceed the incoming one.
var storeIfNotShorter = backend.NewScript(`
local cur = tonumber(redis.call("HGET", KEYS[1], "len") or "-1")
if cur > tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "len", ARGV[1], "data", ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`)

// TimelineCache stores per-prospect transition histories.
type TimelineCache struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
}

type Option func(*TimelineCache)

// WithTTL sets the expiration of cached timelines. Zero keeps them until evicted.
func WithTTL(ttl time.Duration) Option {
	return func(c *TimelineCache) {
		c.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *TimelineCache) {
		c.prefix = prefix
	}
}

// Open parses a redis:// URL and returns a cache bound to a new client.
func Open(ctx context.Context, url string, opts ...Option) (*TimelineCache, error) {
	o, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := backend.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewFromClient(client, opts...), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *TimelineCache {
	c := &TimelineCache{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TimelineCache) key(prospectID string) string {
	return c.prefix + prospectID
}

// Get returns the cached timeline; ok is false on a miss.
func (c *TimelineCache) Get(ctx context.Context, prospectID string) ([]domain.TransitionEvent, bool, error) {
	raw, err := c.client.HGet(ctx, c.key(prospectID), "data").Result()
	if errors.Is(err, backend.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get timeline: %w", err)
	}
	var events []domain.TransitionEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, false, fmt.Errorf("decode cached timeline: %w", err)
	}
	if events == nil {
		events = []domain.TransitionEvent{}
	}
	return events, true, nil
}

// Store caches events unless a longer timeline is already cached. It reports
// whether the entry was written.
func (c *TimelineCache) Store(ctx context.Context, prospectID string, events []domain.TransitionEvent) (bool, error) {
	if events == nil {
		events = []domain.TransitionEvent{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return false, fmt.Errorf("encode timeline: %w", err)
	}
	n, err := storeIfNotShorter.Run(ctx, c.client, []string{c.key(prospectID)},
		len(events), string(data), c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis store timeline: %w", err)
	}
	return n == 1, nil
}

// Invalidate drops the cached timeline.
func (c *TimelineCache) Invalidate(ctx context.Context, prospectID string) error {
	if err := c.client.Del(ctx, c.key(prospectID)).Err(); err != nil {
		return fmt.Errorf("redis invalidate timeline: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *TimelineCache) Close() error {
	return c.client.Close()
}
