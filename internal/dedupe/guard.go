// Package dedupe drops repeated deliveries of the same trigger event.
// Lambda and schedulers deliver at least once, so one event id may arrive twice.
package dedupe

import (
	"sync"
	"time"
)

type claim struct {
	id string
	at time.Time
}

// Guard remembers recently claimed invocation ids.
type Guard struct {
	mu       sync.Mutex
	claimed  map[string]time.Time
	order    []claim
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewGuard keeps at most capacity ids, each for ttl.
func NewGuard(capacity int, ttl time.Duration) *Guard {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Guard{
		claimed:  make(map[string]time.Time, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Claim reports whether id is new, recording it if so.
// An empty id is always new: events without an id cannot be deduplicated.
func (g *Guard) Claim(id string) bool {
	if id == "" {
		return true
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if at, ok := g.claimed[id]; ok && now.Sub(at) <= g.ttl {
		return false
	}
	g.claimed[id] = now
	g.order = append(g.order, claim{id: id, at: now})
	g.evict(now)
	return true
}

// Release forgets id so a redelivery after a failed run is processed again.
func (g *Guard) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, id)
}

// Len is the number of live claims.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claimed)
}

func (g *Guard) evict(now time.Time) {
	cutoff := now.Add(-g.ttl)

	for len(g.order) > 0 && (len(g.claimed) > g.capacity || g.order[0].at.Before(cutoff)) {
		oldest := g.order[0]
		g.order = g.order[1:]

		// A later re-claim of the same id owns the map entry.
		if at, ok := g.claimed[oldest.id]; ok && at.Equal(oldest.at) {
			delete(g.claimed, oldest.id)
		}
	}
}
