package gate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hikaku/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []string
	fail  bool
}

func (q *recordingQueue) Enqueue(_ context.Context, task string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("queue down")
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func TestMemoryGateSingleAcquire(t *testing.T) {
	g := NewMemoryGate()
	ctx := context.Background()

	ok, err := g.TryAcquire(ctx, model.SystemElo)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.TryAcquire(ctx, model.SystemElo)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire while held must fail")

	// The two systems' locks are independent.
	ok, err = g.TryAcquire(ctx, model.SystemGlicko)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryGateReleaseAllowsReacquire(t *testing.T) {
	g := NewMemoryGate()
	ctx := context.Background()

	ok, err := g.TryAcquire(ctx, model.SystemElo)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, g.Release(ctx, model.SystemElo))

	ok, err = g.TryAcquire(ctx, model.SystemElo)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTriggerCoalesces(t *testing.T) {
	g := NewMemoryGate()
	q := &recordingQueue{}
	trigger := NewTrigger(g, q, testLogger())
	ctx := context.Background()

	var enqueued, skipped atomic.Int64
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := trigger.Trigger(ctx, model.SystemElo)
			assert.NoError(t, err)
			switch result {
			case Enqueued:
				enqueued.Add(1)
			case Skipped:
				skipped.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), enqueued.Load(), "exactly one trigger enqueues")
	assert.Equal(t, int64(49), skipped.Load())
	assert.Equal(t, []string{TaskElo}, q.tasks)
}

func TestTriggerReleasesOnEnqueueFailure(t *testing.T) {
	g := NewMemoryGate()
	q := &recordingQueue{fail: true}
	trigger := NewTrigger(g, q, testLogger())
	ctx := context.Background()

	_, err := trigger.Trigger(ctx, model.SystemGlicko)
	require.Error(t, err)

	// The gate must be free again so a later vote can retry.
	ok, err := g.TryAcquire(ctx, model.SystemGlicko)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTaskNamesRoundTrip(t *testing.T) {
	for _, system := range []model.RatingSystem{model.SystemElo, model.SystemGlicko} {
		got, ok := SystemForTask(TaskFor(system))
		require.True(t, ok)
		assert.Equal(t, system, got)
	}
	_, ok := SystemForTask("unknown_task")
	assert.False(t, ok)
}
