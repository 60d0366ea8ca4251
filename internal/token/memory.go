package token

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hikaku/internal/model"
)

type entry struct {
	payload   model.PairPayload
	expiresAt time.Time
}

// MemoryStore implements Store with an in-process map. A background
// goroutine evicts expired tokens every minute to bound memory; expiry is
// also checked lazily on TakeAndDelete.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]entry

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryStore creates an in-memory token store. Call Close to stop the
// eviction goroutine.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[uuid.UUID]entry),
		done:    make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Put stores the payload under token for ttl.
func (s *MemoryStore) Put(_ context.Context, tok uuid.UUID, payload model.PairPayload, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tok] = entry{payload: payload, expiresAt: time.Now().Add(ttl)}
	return nil
}

// TakeAndDelete atomically fetches and removes the payload.
func (s *MemoryStore) TakeAndDelete(_ context.Context, tok uuid.UUID) (model.PairPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tok]
	if !ok {
		return model.PairPayload{}, ErrNotFound
	}
	delete(s.entries, tok)
	if time.Now().After(e.expiresAt) {
		return model.PairPayload{}, ErrNotFound
	}
	return e.payload, nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for tok, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, tok)
		}
	}
}
