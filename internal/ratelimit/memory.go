package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window tracks request timestamps for one (prefix, key) pair.
type window struct {
	hits       []time.Time
	lastAccess time.Time
}

// MemoryLimiter is the in-process sliding-window limiter for deployments
// without Redis. A background goroutine evicts idle keys every minute to
// bound memory; call Close to stop it.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates an in-memory sliding-window limiter.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow records the request and reports whether it fits under the rule.
func (m *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	id := rule.Prefix + ":" + key
	w, ok := m.windows[id]
	if !ok {
		w = &window{}
		m.windows[id] = w
	}
	w.lastAccess = now

	cutoff := now.Add(-rule.Window)
	kept := w.hits[:0]
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	w.hits = kept

	if len(w.hits) >= rule.Limit {
		return Result{
			Allowed:   false,
			Limit:     rule.Limit,
			Remaining: 0,
			ResetAt:   w.hits[0].Add(rule.Window),
		}
	}

	w.hits = append(w.hits, now)
	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - len(w.hits),
		ResetAt:   now.Add(rule.Window),
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-staleThreshold)
	for key, w := range m.windows {
		if w.lastAccess.Before(cutoff) {
			delete(m.windows, key)
		}
	}
}
