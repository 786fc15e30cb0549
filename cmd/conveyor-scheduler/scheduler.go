package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/persistence"
	"github.com/conveyorhq/conveyor/pkg/workflow"
)

const defaultPollInterval = 10 * time.Second

// Scheduler polls the schedule repository and enqueues an execution for
// every due schedule. It is safe to run a single instance; the queue's
// dedup keys prevent double runs if a poll overlaps a slow enqueue.
type Scheduler struct {
	persistence  persistence.Persistence
	service      *workflow.Service
	logger       *slog.Logger
	pollInterval time.Duration
}

func NewScheduler(
	persist persistence.Persistence,
	service *workflow.Service,
	logger *slog.Logger,
	pollInterval time.Duration,
) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Scheduler{
		persistence:  persist,
		service:      service,
		logger:       logger.With("module", "scheduler"),
		pollInterval: pollInterval,
	}
}

// Start polls until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")

			return nil
		case now := <-ticker.C:
			s.Tick(ctx, now.UTC())
		}
	}
}

// Tick processes every schedule due at the given time. Each schedule is
// handled independently so one broken workflow cannot starve the rest.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	due, err := s.persistence.ScheduleRepository().DueSchedules(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list due schedules", "error", err)

		return
	}

	for _, schedule := range due {
		if err := s.trigger(ctx, schedule, now); err != nil {
			s.logger.ErrorContext(ctx, "Failed to trigger scheduled workflow",
				"workflow_id", schedule.WorkflowID, "error", err)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, schedule *models.Schedule, now time.Time) error {
	wf, err := s.persistence.WorkflowRepository().GetByID(ctx, schedule.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			// Workflow is gone; drop the orphaned schedule.
			return s.persistence.ScheduleRepository().DeleteByWorkflowID(ctx, schedule.WorkflowID)
		}

		return err
	}

	// The next due time advances even when the workflow was paused
	// underneath the schedule, so a reactivation does not fire a
	// backlog of missed runs.
	if err := schedule.UpdateNextDueAt(); err != nil {
		return err
	}

	if err := s.persistence.ScheduleRepository().Save(ctx, schedule); err != nil {
		return err
	}

	if !wf.IsActive {
		s.logger.InfoContext(ctx, "Skipping schedule for inactive workflow",
			"workflow_id", wf.ID)

		return nil
	}

	execution, err := s.service.TriggerExecution(ctx, wf, models.TriggerTypeSchedule, map[string]any{
		"scheduled_at": now.Format(time.RFC3339),
		"cron":         schedule.CronExpression,
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Scheduled execution queued",
		"workflow_id", wf.ID, "execution_id", execution.ID)

	return nil
}
