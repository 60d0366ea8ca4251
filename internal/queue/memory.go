package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MemoryQueue is a channel-backed queue for single-process deployments and
// tests. Same dispatch semantics as RedisQueue, no cross-process delivery.
type MemoryQueue struct {
	jobs   chan Job
	logger *slog.Logger
}

// NewMemoryQueue creates a queue buffering up to size pending jobs.
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{jobs: make(chan Job, size), logger: logger}
}

// Enqueue pushes a task with no headers.
func (q *MemoryQueue) Enqueue(ctx context.Context, task string) error {
	return q.EnqueueWithHeaders(ctx, task, nil)
}

// EnqueueWithHeaders pushes a task with the given headers. Fails when the
// buffer is full rather than blocking the request path.
func (q *MemoryQueue) EnqueueWithHeaders(ctx context.Context, task string, headers map[string]string) error {
	select {
	case q.jobs <- newJob(task, headers):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue: buffer full, dropping %s", task)
	}
}

// Run consumes jobs until ctx is canceled.
func (q *MemoryQueue) Run(ctx context.Context, handlers map[string]Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-q.jobs:
			handler, ok := handlers[job.Task]
			if !ok {
				q.logger.Warn("queue: no handler for task", "task", job.Task, "job_id", job.ID)
				continue
			}
			start := time.Now()
			if err := handler(ctx, job); err != nil {
				q.logger.Error("queue: job failed", "task", job.Task, "job_id", job.ID, "error", err)
				continue
			}
			q.logger.Info("queue: job done", "task", job.Task, "job_id", job.ID, "duration", time.Since(start))
		}
	}
}
