package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryQueueDispatch(t *testing.T) {
	q := NewMemoryQueue(8, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Job, 2)
	handlers := map[string]Handler{
		"elo_calculation": func(_ context.Context, job Job) error {
			got <- job
			return nil
		},
	}

	require.NoError(t, q.Enqueue(ctx, "elo_calculation"))
	require.NoError(t, q.EnqueueWithHeaders(ctx, "elo_calculation", map[string]string{"source": "test"}))

	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx, handlers)
		close(done)
	}()

	first := <-got
	assert.Equal(t, "elo_calculation", first.Task)
	assert.Empty(t, first.Headers)
	assert.False(t, first.Created.IsZero())

	second := <-got
	assert.Equal(t, "test", second.Headers["source"])

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestMemoryQueueUnknownTaskDropped(t *testing.T) {
	q := NewMemoryQueue(1, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, "unknown_task"))
	assert.NoError(t, q.Run(ctx, map[string]Handler{}))
}

func TestMemoryQueueHandlerErrorDoesNotStopRun(t *testing.T) {
	q := NewMemoryQueue(4, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 2)
	handlers := map[string]Handler{
		"glicko_calculation": func(context.Context, Job) error {
			calls <- struct{}{}
			return errors.New("transient")
		},
	}

	require.NoError(t, q.Enqueue(ctx, "glicko_calculation"))
	require.NoError(t, q.Enqueue(ctx, "glicko_calculation"))

	go func() { _ = q.Run(ctx, handlers) }()

	for range 2 {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("handler was not retried for the second job")
		}
	}
}

func TestMemoryQueueFullBuffer(t *testing.T) {
	q := NewMemoryQueue(1, testLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "elo_calculation"))
	err := q.Enqueue(ctx, "elo_calculation")
	assert.Error(t, err, "a full buffer must not block the request path")
}
