// Package queue is the at-least-once task transport between the API server
// and the rating worker.
//
// Jobs are JSON envelopes on a Redis list: producers LPUSH, the worker
// BRPOPs. Delivery is at-least-once; handlers must be idempotent, which the
// rating engine guarantees through its processed markers.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultKey is the Redis list the worker drains.
const DefaultKey = "hikaku:jobs"

// Job is the wire envelope for one task dispatch.
type Job struct {
	ID      uuid.UUID         `json:"id"`
	Task    string            `json:"task"`
	Headers map[string]string `json:"headers,omitempty"`
	Created time.Time         `json:"created"`
}

// Handler processes one job. Returning an error logs and drops the job; the
// rating tasks tolerate drops because every run drains the full backlog.
type Handler func(ctx context.Context, job Job) error

// Queue is the transport contract shared by the Redis and in-memory
// implementations.
type Queue interface {
	Enqueue(ctx context.Context, task string) error
	EnqueueWithHeaders(ctx context.Context, task string, headers map[string]string) error

	// Run consumes jobs until ctx is canceled, dispatching by task name.
	Run(ctx context.Context, handlers map[string]Handler) error
}

func newJob(task string, headers map[string]string) Job {
	return Job{
		ID:      uuid.New(),
		Task:    task,
		Headers: headers,
		Created: time.Now().UTC(),
	}
}
