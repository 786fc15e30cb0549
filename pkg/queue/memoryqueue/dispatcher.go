// Package memoryqueue implements the job dispatcher in process memory. It
// mirrors the Redis dispatcher's semantics (dedup, retries with backoff,
// bounded concurrency) without external dependencies, which makes it the
// queue of choice for tests and single-process development.
package memoryqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/pkg/queue"
)

type Dispatcher struct {
	config queue.Config
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	jobs     chan queue.Job
	timers   []*time.Timer

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(config queue.Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		config:   config.WithDefaults(),
		logger:   logger.With("module", "memory_dispatcher"),
		inFlight: make(map[string]struct{}),
		jobs:     make(chan queue.Job, 1024),
		stopCh:   make(chan struct{}),
	}
}

func (d *Dispatcher) Enqueue(_ context.Context, job queue.Job) error {
	d.mu.Lock()

	if _, exists := d.inFlight[job.ExecutionID]; exists {
		d.mu.Unlock()

		return queue.ErrDuplicateJob
	}

	d.inFlight[job.ExecutionID] = struct{}{}
	d.mu.Unlock()

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	d.jobs <- job

	return nil
}

func (d *Dispatcher) Start(ctx context.Context, handler queue.JobHandler) error {
	d.logger.InfoContext(ctx, "Starting dispatcher",
		"concurrency", d.config.Concurrency,
		"max_attempts", d.config.MaxAttempts,
	)

	for range d.config.Concurrency {
		d.wg.Add(1)

		go d.worker(ctx, handler)
	}

	return nil
}

func (d *Dispatcher) worker(ctx context.Context, handler queue.JobHandler) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			d.process(ctx, handler, job)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, handler queue.JobHandler, job queue.Job) {
	job.Attempt++

	logger := d.logger.With("execution_id", job.ExecutionID, "attempt", job.Attempt)

	err := handler(ctx, job)
	if err == nil {
		d.release(job.ExecutionID)
		logger.InfoContext(ctx, "Job completed")

		return
	}

	if job.Attempt >= d.config.MaxAttempts {
		d.release(job.ExecutionID)
		logger.ErrorContext(ctx, "Job exhausted retries", "error", err)

		return
	}

	delay := queue.Backoff(d.config.BaseBackoff, job.Attempt)
	logger.WarnContext(ctx, "Job failed, retry scheduled", "error", err, "delay", delay)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	retry := job
	timer := time.AfterFunc(delay, func() {
		select {
		case d.jobs <- retry:
		case <-d.stopCh:
		}
	})
	d.timers = append(d.timers, timer)
}

func (d *Dispatcher) release(executionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inFlight, executionID)
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.logger.InfoContext(ctx, "Stopping dispatcher")

	d.mu.Lock()
	d.stopped = true

	for _, timer := range d.timers {
		timer.Stop()
	}
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()

	return nil
}

func (d *Dispatcher) HealthCheck(_ context.Context) error {
	return nil
}
