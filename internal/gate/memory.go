package gate

import (
	"context"
	"sync"
	"time"

	"github.com/ashita-ai/hikaku/internal/model"
)

// MemoryGate implements Gate in process memory. It honors the same TTL
// semantics as RedisGate but cannot coordinate across processes; it exists
// for single-process deployments and tests.
type MemoryGate struct {
	mu    sync.Mutex
	locks map[model.RatingSystem]time.Time
}

// NewMemoryGate creates an in-memory gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{locks: make(map[model.RatingSystem]time.Time)}
}

// TryAcquire sets the system's lock if absent or expired.
func (g *MemoryGate) TryAcquire(_ context.Context, system model.RatingSystem) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, held := g.locks[system]; held && time.Now().Before(expiry) {
		return false, nil
	}
	g.locks[system] = time.Now().Add(TTLFor(system))
	return true, nil
}

// Release deletes the system's lock.
func (g *MemoryGate) Release(_ context.Context, system model.RatingSystem) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.locks, system)
	return nil
}

// Close is a no-op.
func (g *MemoryGate) Close() error { return nil }
