package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func closeLimiter(t *testing.T, m *MemoryLimiter) {
	t.Helper()
	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func testRule(limit int, window time.Duration) Rule {
	return Rule{Prefix: "test", Limit: limit, Window: window}
}

func TestMemoryLimiterAllowUnderLimit(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	ctx := context.Background()
	rule := testRule(5, time.Minute)
	for i := 0; i < 5; i++ {
		res := m.Allow(ctx, rule, "k1")
		if !res.Allowed {
			t.Fatalf("expected Allow for request %d (within limit)", i)
		}
		if res.Remaining != 5-i-1 {
			t.Fatalf("expected remaining %d after request %d, got %d", 5-i-1, i, res.Remaining)
		}
	}
}

func TestMemoryLimiterDenyOverLimit(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	ctx := context.Background()
	rule := testRule(3, time.Minute)
	for i := 0; i < 3; i++ {
		if res := m.Allow(ctx, rule, "k1"); !res.Allowed {
			t.Fatalf("expected Allow for request %d", i)
		}
	}

	res := m.Allow(ctx, rule, "k1")
	if res.Allowed {
		t.Fatal("expected denial after limit exhausted")
	}
	if res.Remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", res.Remaining)
	}
	if !res.ResetAt.After(time.Now()) {
		t.Fatal("ResetAt should be in the future")
	}
}

func TestMemoryLimiterWindowSlides(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	ctx := context.Background()
	rule := testRule(2, 50*time.Millisecond)

	m.Allow(ctx, rule, "k1")
	m.Allow(ctx, rule, "k1")
	if res := m.Allow(ctx, rule, "k1"); res.Allowed {
		t.Fatal("should be denied immediately after exhausting the window")
	}

	time.Sleep(60 * time.Millisecond)

	if res := m.Allow(ctx, rule, "k1"); !res.Allowed {
		t.Fatal("expected Allow after the window slid past the old hits")
	}
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	ctx := context.Background()
	rule := testRule(1, time.Minute)

	if res := m.Allow(ctx, rule, "a"); !res.Allowed {
		t.Fatal("first request for 'a' should succeed")
	}
	if res := m.Allow(ctx, rule, "a"); res.Allowed {
		t.Fatal("second request for 'a' should be denied")
	}

	// Key "b" should be unaffected.
	if res := m.Allow(ctx, rule, "b"); !res.Allowed {
		t.Fatal("first request for 'b' should succeed")
	}
}

func TestMemoryLimiterIndependentPrefixes(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	ctx := context.Background()
	voteRule := Rule{Prefix: "vote", Limit: 1, Window: time.Minute}
	batchRule := Rule{Prefix: "batch", Limit: 1, Window: time.Minute}

	m.Allow(ctx, voteRule, "k")
	if res := m.Allow(ctx, voteRule, "k"); res.Allowed {
		t.Fatal("vote budget should be exhausted")
	}
	if res := m.Allow(ctx, batchRule, "k"); !res.Allowed {
		t.Fatal("batch budget is separate and should still allow")
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	ctx := context.Background()
	rule := testRule(50, time.Minute)
	var wg sync.WaitGroup
	allowed := make([]int, 10)

	// 10 goroutines each send 10 requests for the same key.
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if res := m.Allow(ctx, rule, "shared"); res.Allowed {
					allowed[idx]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, c := range allowed {
		total += c
	}
	if total != 50 {
		t.Fatalf("expected exactly 50 allowed requests, got %d", total)
	}
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	ctx := context.Background()
	rule := testRule(5, time.Minute)
	m.Allow(ctx, rule, "stale")

	// Manually backdate the window.
	m.mu.Lock()
	m.windows["test:stale"].lastAccess = time.Now().Add(-15 * time.Minute)
	m.mu.Unlock()

	m.evictStale()

	m.mu.Lock()
	_, exists := m.windows["test:stale"]
	m.mu.Unlock()

	if exists {
		t.Fatal("expected stale window to be evicted")
	}
}

func TestMemoryLimiterEvictKeepsRecent(t *testing.T) {
	m := NewMemoryLimiter()
	defer closeLimiter(t, m)

	ctx := context.Background()
	m.Allow(ctx, testRule(5, time.Minute), "recent")

	m.evictStale()

	m.mu.Lock()
	_, exists := m.windows["test:recent"]
	m.mu.Unlock()

	if !exists {
		t.Fatal("expected recent window to survive eviction")
	}
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter()
	// Double close should not panic.
	if err := m.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}
