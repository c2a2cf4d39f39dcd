package middleware

import (
	"sync"
	"time"
)

// ReplayGuard rejects a request key seen again within its TTL. It is safe for
// concurrent use.
type ReplayGuard struct {
	seen map[string]time.Time // request key -> first seen
	ttl  time.Duration
	mu   sync.Mutex
}

// NewReplayGuard creates a guard that remembers request keys for ttl. The ttl
// should cover the accepted timestamp skew in both directions.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether key was already used within the TTL. Unseen (or
// expired) keys are recorded and false is returned.
func (g *ReplayGuard) Seen(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if first, ok := g.seen[key]; ok && now.Sub(first) < g.ttl {
		return true
	}
	g.seen[key] = now
	return false
}

// Cleanup drops expired entries. Call it periodically to bound memory.
func (g *ReplayGuard) Cleanup(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, ts := range g.seen {
		if now.Sub(ts) >= g.ttl {
			delete(g.seen, key)
		}
	}
}

// Len returns the number of remembered request keys.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
