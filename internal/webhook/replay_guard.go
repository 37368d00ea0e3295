package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryReplayGuard is an in-process ReplayGuard for deployments without
// Redis. Entries expire after the replay window; anything older is rejected
// by the freshness check anyway.
type MemoryReplayGuard struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryReplayGuard creates a guard whose entries expire after ttl.
func NewMemoryReplayGuard(ttl time.Duration, clock clockwork.Clock) *MemoryReplayGuard {
	return &MemoryReplayGuard{
		clock: clock,
		ttl:   ttl,
		seen:  make(map[string]time.Time),
	}
}

// Seen implements ReplayGuard.
func (g *MemoryReplayGuard) Seen(_ context.Context, messageID string) (bool, error) {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Opportunistic pruning keeps the map bounded without a timer goroutine.
	for id, at := range g.seen {
		if now.Sub(at) > g.ttl {
			delete(g.seen, id)
		}
	}

	if at, ok := g.seen[messageID]; ok && now.Sub(at) <= g.ttl {
		return true, nil
	}
	g.seen[messageID] = now
	return false, nil
}
