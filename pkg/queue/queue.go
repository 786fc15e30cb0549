// Package queue provides the durable job dispatcher that feeds executions
// to workers. Jobs are deduplicated by execution ID, retried with
// exponential backoff, and processed by a bounded worker pool.
package queue

import (
	"context"
	"errors"
	"time"
)

// Dispatch defaults. Failed jobs are retried with exponential backoff:
// the n-th retry waits BaseBackoff * 2^(n-1).
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 5 * time.Second
	DefaultConcurrency = 5

	// Completed and failed job history is capped so queue storage
	// stays bounded.
	CompletedHistoryLimit = 100
	FailedHistoryLimit    = 50
)

// ErrDuplicateJob indicates an execution is already queued or in flight.
// Enqueueing the same execution twice is a no-op, not a second run.
var ErrDuplicateJob = errors.New("job already enqueued for execution")

// Job is one unit of dispatch: run the identified execution.
type Job struct {
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	Attempt     int       `json:"attempt"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// JobHandler processes one job. A non-nil error schedules a retry until
// the attempt budget is spent.
type JobHandler func(ctx context.Context, job Job) error

// Dispatcher is the durable, retrying job queue.
type Dispatcher interface {
	// Enqueue adds a job keyed by its execution ID. Returns
	// ErrDuplicateJob when that execution is already queued.
	Enqueue(ctx context.Context, job Job) error

	// Start launches the worker pool; workers call handler for each job.
	Start(ctx context.Context, handler JobHandler) error

	// Stop drains the workers and releases resources.
	Stop(ctx context.Context) error

	HealthCheck(ctx context.Context) error
}

// Config tunes a dispatcher. Zero values fall back to the defaults above.
type Config struct {
	Concurrency int
	MaxAttempts int
	BaseBackoff time.Duration
}

// WithDefaults fills unset fields with the package defaults.
func (c Config) WithDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}

	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}

	return c
}

// Backoff returns the delay before the given retry attempt (1-based).
func Backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	return delay
}
