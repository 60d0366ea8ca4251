package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// popTimeout bounds each BRPOP so the worker can observe context
// cancellation between polls.
const popTimeout = 5 * time.Second

// RedisQueue is the production job transport.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

// NewRedisQueue wraps an existing Redis client. key is the list name; pass
// "" for DefaultKey.
func NewRedisQueue(client redis.UniversalClient, key string, logger *slog.Logger) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key, logger: logger}
}

// Enqueue pushes a task with no headers.
func (q *RedisQueue) Enqueue(ctx context.Context, task string) error {
	return q.EnqueueWithHeaders(ctx, task, nil)
}

// EnqueueWithHeaders pushes a task with the given headers.
func (q *RedisQueue) EnqueueWithHeaders(ctx context.Context, task string, headers map[string]string) error {
	raw, err := json.Marshal(newJob(task, headers))
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", task, err)
	}
	return nil
}

// Run consumes jobs until ctx is canceled, dispatching each to the handler
// registered for its task name. Unknown tasks are logged and dropped.
func (q *RedisQueue) Run(ctx context.Context, handlers map[string]Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		values, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Error("queue: pop failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		// BRPop returns [key, value].
		if len(values) != 2 {
			continue
		}
		q.dispatch(ctx, []byte(values[1]), handlers)
	}
}

func (q *RedisQueue) dispatch(ctx context.Context, raw []byte, handlers map[string]Handler) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		q.logger.Error("queue: malformed job dropped", "error", err)
		return
	}

	handler, ok := handlers[job.Task]
	if !ok {
		q.logger.Warn("queue: no handler for task", "task", job.Task, "job_id", job.ID)
		return
	}

	start := time.Now()
	if err := handler(ctx, job); err != nil {
		q.logger.Error("queue: job failed", "task", job.Task, "job_id", job.ID, "error", err)
		return
	}
	q.logger.Info("queue: job done", "task", job.Task, "job_id", job.ID, "duration", time.Since(start))
}
