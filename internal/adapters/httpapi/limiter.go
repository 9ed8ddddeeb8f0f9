package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// agentLimiter keeps one token bucket per agent and evicts idle buckets.
type agentLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	byAgent map[string]*bucket
	hits    uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newAgentLimiter returns nil when rps or burst disable limiting.
func newAgentLimiter(rps float64, burst int, idleTTL time.Duration) *agentLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &agentLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byAgent: make(map[string]*bucket),
	}
}

func (l *agentLimiter) allow(agentID string, now time.Time) bool {
	if l == nil || agentID == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byAgent[agentID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byAgent[agentID] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for id, v := range l.byAgent {
			if v.lastSeen.Before(cutoff) {
				delete(l.byAgent, id)
			}
		}
	}
	return allowed
}

func (l *agentLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byAgent)
}
