// Package gate coordinates rating-calculation single-flight across worker
// processes.
//
// At most one rating task per system may be in flight. The lock is a keyed
// set-if-absent entry with a TTL that caps how long a crashed run can hold
// the gate; the engine deletes the key on normal exit. Because the gate
// spans processes it must live in a shared store, not in-process memory;
// RedisGate is the production implementation.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/hikaku/internal/model"
)

// Lock TTLs are ceilings on expected batch duration. A crashed engine frees
// the gate when its TTL lapses.
const (
	EloTTL    = 5 * time.Minute
	GlickoTTL = time.Hour
)

// TTLFor returns the lock TTL for a rating system.
func TTLFor(system model.RatingSystem) time.Duration {
	if system == model.SystemGlicko {
		return GlickoTTL
	}
	return EloTTL
}

func lockKey(system model.RatingSystem) string {
	if system == model.SystemGlicko {
		return "glicko_calculation_in_progress"
	}
	return "elo_calculation_in_progress"
}

// Gate is the keyed single-flight lock. Implementations must be safe for
// concurrent use across goroutines; RedisGate is additionally safe across
// processes.
type Gate interface {
	// TryAcquire sets the system's lock if absent. Returns false when the
	// lock is already held.
	TryAcquire(ctx context.Context, system model.RatingSystem) (bool, error)

	// Release deletes the system's lock. Best-effort: the TTL is the
	// backstop when a release is lost.
	Release(ctx context.Context, system model.RatingSystem) error

	// Close releases resources.
	Close() error
}

// Result is the outcome of a trigger call.
type Result string

const (
	Enqueued Result = "ENQUEUED"
	Skipped  Result = "SKIPPED"
)

// Enqueuer dispatches a named task to the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task string) error
}

// Task names are stable strings so external operators can enqueue runs
// directly.
const (
	TaskElo    = "elo_calculation"
	TaskGlicko = "glicko_calculation"
)

// TaskFor returns the queue task name for a rating system.
func TaskFor(system model.RatingSystem) string {
	if system == model.SystemGlicko {
		return TaskGlicko
	}
	return TaskElo
}

// SystemForTask is the inverse of TaskFor; ok is false for unknown names.
func SystemForTask(task string) (model.RatingSystem, bool) {
	switch task {
	case TaskElo:
		return model.SystemElo, true
	case TaskGlicko:
		return model.SystemGlicko, true
	}
	return "", false
}

// Trigger coalesces rating-run requests: it enqueues one task per system at
// a time and reports SKIPPED while a run is already pending or in flight.
type Trigger struct {
	gate   Gate
	queue  Enqueuer
	logger *slog.Logger
}

// NewTrigger wires a gate and a job queue.
func NewTrigger(g Gate, queue Enqueuer, logger *slog.Logger) *Trigger {
	return &Trigger{gate: g, queue: queue, logger: logger}
}

// Trigger requests a rating run for system. Bursts collapse: the first
// caller enqueues, the rest skip. Correctness does not depend on every
// trigger landing because each run drains all pending comparisons.
func (t *Trigger) Trigger(ctx context.Context, system model.RatingSystem) (Result, error) {
	acquired, err := t.gate.TryAcquire(ctx, system)
	if err != nil {
		return "", fmt.Errorf("gate: acquire %s: %w", system, err)
	}
	if !acquired {
		t.logger.Debug("rating run already in flight, skipping", "system", system)
		return Skipped, nil
	}

	if err := t.queue.Enqueue(ctx, TaskFor(system)); err != nil {
		// Free the gate so the next vote can retry the enqueue.
		if relErr := t.gate.Release(ctx, system); relErr != nil {
			t.logger.Warn("release after failed enqueue", "system", system, "error", relErr)
		}
		return "", fmt.Errorf("gate: enqueue %s: %w", system, err)
	}

	t.logger.Debug("rating run enqueued", "system", system)
	return Enqueued, nil
}
