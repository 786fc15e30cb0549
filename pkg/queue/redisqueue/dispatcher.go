// Package redisqueue implements the job dispatcher on Redis: a list for
// ready jobs, a sorted set for scheduled retries, and SETNX keys for
// execution-level deduplication.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/conveyorhq/conveyor/pkg/queue"
)

const (
	readyKey     = "conveyor:jobs:ready"
	retryKey     = "conveyor:jobs:retry"
	dedupPrefix  = "conveyor:jobs:dedup:"
	completedKey = "conveyor:jobs:completed"
	failedKey    = "conveyor:jobs:failed"

	popTimeout    = 1 * time.Second
	retryInterval = 1 * time.Second

	// Dedup keys expire as a safety net against leaked reservations.
	dedupTTL = 24 * time.Hour
)

type Dispatcher struct {
	client redis.UniversalClient
	config queue.Config
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher creates a Redis-backed dispatcher and verifies connectivity.
func NewDispatcher(ctx context.Context, client redis.UniversalClient, config queue.Config, logger *slog.Logger) (*Dispatcher, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Dispatcher{
		client: client,
		config: config.WithDefaults(),
		logger: logger.With("module", "redis_dispatcher"),
		stopCh: make(chan struct{}),
	}, nil
}

// NewClient builds a Redis client from connection parameters.
func NewClient(addr, password string, db int) redis.UniversalClient {
	if addr == "" {
		addr = "localhost:6379"
	}

	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (d *Dispatcher) Enqueue(ctx context.Context, job queue.Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	// SETNX reserves the execution ID; a second enqueue for the same
	// execution finds the key and backs off.
	reserved, err := d.client.SetNX(ctx, dedupPrefix+job.ExecutionID, "1", dedupTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve job %s: %w", job.ExecutionID, err)
	}

	if !reserved {
		return queue.ErrDuplicateJob
	}

	if err := d.push(ctx, job); err != nil {
		d.client.Del(ctx, dedupPrefix+job.ExecutionID)

		return err
	}

	d.logger.InfoContext(ctx, "Job enqueued", "execution_id", job.ExecutionID, "workflow_id", job.WorkflowID)

	return nil
}

func (d *Dispatcher) push(ctx context.Context, job queue.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ExecutionID, err)
	}

	if err := d.client.LPush(ctx, readyKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to push job %s: %w", job.ExecutionID, err)
	}

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

	d.wg.Add(1)

	go d.promoteRetries(ctx)

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
		default:
			if err := d.processOne(ctx, handler); err != nil {
				d.logger.ErrorContext(ctx, "Error processing job", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (d *Dispatcher) processOne(ctx context.Context, handler queue.JobHandler) error {
	result, err := d.client.BRPop(ctx, popTimeout, readyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop job: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var job queue.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	job.Attempt++

	logger := d.logger.With("execution_id", job.ExecutionID, "attempt", job.Attempt)
	logger.InfoContext(ctx, "Processing job")

	if err := handler(ctx, job); err != nil {
		return d.handleFailure(ctx, job, err, logger)
	}

	d.release(ctx, job, completedKey, queue.CompletedHistoryLimit)
	logger.InfoContext(ctx, "Job completed")

	return nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, job queue.Job, jobErr error, logger *slog.Logger) error {
	if job.Attempt >= d.config.MaxAttempts {
		d.release(ctx, job, failedKey, queue.FailedHistoryLimit)
		logger.ErrorContext(ctx, "Job exhausted retries", "error", jobErr)

		return nil
	}

	delay := queue.Backoff(d.config.BaseBackoff, job.Attempt)
	readyAt := time.Now().UTC().Add(delay)

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s for retry: %w", job.ExecutionID, err)
	}

	err = d.client.ZAdd(ctx, retryKey, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", job.ExecutionID, err)
	}

	logger.WarnContext(ctx, "Job failed, retry scheduled", "error", jobErr, "delay", delay)

	return nil
}

// release records the terminal job in its capped history list and frees
// the dedup reservation so the execution can be enqueued again.
func (d *Dispatcher) release(ctx context.Context, job queue.Job, historyKey string, limit int) {
	payload, err := json.Marshal(job)
	if err == nil {
		pipe := d.client.Pipeline()
		pipe.LPush(ctx, historyKey, payload)
		pipe.LTrim(ctx, historyKey, 0, int64(limit)-1)

		if _, err := pipe.Exec(ctx); err != nil {
			d.logger.ErrorContext(ctx, "Failed to record job history", "execution_id", job.ExecutionID, "error", err)
		}
	}

	if err := d.client.Del(ctx, dedupPrefix+job.ExecutionID).Err(); err != nil {
		d.logger.ErrorContext(ctx, "Failed to release job reservation", "execution_id", job.ExecutionID, "error", err)
	}
}

// promoteRetries moves due jobs from the retry set back onto the ready list.
func (d *Dispatcher) promoteRetries(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.promoteDue(ctx); err != nil {
				d.logger.ErrorContext(ctx, "Error promoting retries", "error", err)
			}
		}
	}
}

func (d *Dispatcher) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)

	due, err := d.client.ZRangeByScore(ctx, retryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read retry set: %w", err)
	}

	for _, payload := range due {
		removed, err := d.client.ZRem(ctx, retryKey, payload).Result()
		if err != nil {
			return fmt.Errorf("failed to remove retry entry: %w", err)
		}

		// Another worker already promoted this entry
		if removed == 0 {
			continue
		}

		if err := d.client.LPush(ctx, readyKey, payload).Err(); err != nil {
			return fmt.Errorf("failed to promote retry: %w", err)
		}
	}

	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.logger.InfoContext(ctx, "Stopping dispatcher")

	close(d.stopCh)
	d.wg.Wait()

	return d.client.Close()
}

func (d *Dispatcher) HealthCheck(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
