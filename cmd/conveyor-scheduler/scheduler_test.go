package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/persistence"
	"github.com/conveyorhq/conveyor/pkg/persistence/file"
	"github.com/conveyorhq/conveyor/pkg/queue"
	"github.com/conveyorhq/conveyor/pkg/queue/memoryqueue"
	"github.com/conveyorhq/conveyor/pkg/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupScheduler(t *testing.T) (*Scheduler, persistence.Persistence, *workflow.Service) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	dispatcher := memoryqueue.NewDispatcher(queue.Config{}, testLogger())
	service := workflow.NewService(persist, dispatcher, testLogger())

	return NewScheduler(persist, service, testLogger(), time.Second), persist, service
}

func scheduledWorkflow(t *testing.T, service *workflow.Service) *models.Workflow {
	t.Helper()

	ctx := context.Background()

	created, err := service.Create(ctx, &models.Workflow{
		Name: "Nightly Report",
		Definition: &models.WorkflowDefinition{
			Trigger: models.TriggerConfig{
				Type: models.TriggerTypeSchedule,
				Cron: "0 2 * * *",
			},
			Steps: []models.WorkflowStep{
				{
					ID:     "shape",
					Type:   models.StepTypeTransformData,
					Config: map[string]any{"expression": `{"ok": true}`},
				},
			},
		},
	})
	require.NoError(t, err)

	activated, err := service.Activate(ctx, created.ID)
	require.NoError(t, err)

	return activated
}

func forceDue(t *testing.T, persist persistence.Persistence, workflowID string) {
	t.Helper()

	ctx := context.Background()

	schedule, err := persist.ScheduleRepository().GetByWorkflowID(ctx, workflowID)
	require.NoError(t, err)

	schedule.NextDueAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, persist.ScheduleRepository().Save(ctx, schedule))
}

func TestScheduler_TriggersDueWorkflow(t *testing.T) {
	scheduler, persist, service := setupScheduler(t)
	ctx := context.Background()

	wf := scheduledWorkflow(t, service)
	forceDue(t, persist, wf.ID)

	now := time.Now().UTC()
	scheduler.Tick(ctx, now)

	executions, total, err := persist.ExecutionRepository().ListExecutionsByWorkflow(ctx, wf.ID, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	assert.Equal(t, models.ExecutionStatusPending, executions[0].Status)
	assert.Equal(t, models.TriggerTypeSchedule, executions[0].TriggerType)
	assert.Equal(t, "0 2 * * *", executions[0].TriggerData["cron"])

	// The schedule advances so the next tick does not refire.
	schedule, err := persist.ScheduleRepository().GetByWorkflowID(ctx, wf.ID)
	require.NoError(t, err)
	assert.True(t, schedule.NextDueAt.After(now))

	scheduler.Tick(ctx, time.Now().UTC())

	_, total, err = persist.ExecutionRepository().ListExecutionsByWorkflow(ctx, wf.ID, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestScheduler_SkipsInactiveWorkflow(t *testing.T) {
	scheduler, persist, service := setupScheduler(t)
	ctx := context.Background()

	wf := scheduledWorkflow(t, service)

	// Deactivate removes the schedule; recreate one manually to simulate
	// a workflow paused directly in storage.
	wf.IsActive = false
	wf.Status = models.WorkflowStatusPaused
	require.NoError(t, persist.WorkflowRepository().Save(ctx, wf))

	schedule, err := models.NewSchedule(uuid.NewString(), wf.ID, "0 2 * * *", "")
	require.NoError(t, err)
	schedule.NextDueAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, persist.ScheduleRepository().Save(ctx, schedule))

	scheduler.Tick(ctx, time.Now().UTC())

	_, total, err := persist.ExecutionRepository().ListExecutionsByWorkflow(ctx, wf.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	// The due time still advances while paused.
	schedule, err = persist.ScheduleRepository().GetByWorkflowID(ctx, wf.ID)
	require.NoError(t, err)
	assert.True(t, schedule.NextDueAt.After(time.Now().UTC()))
}

func TestScheduler_DropsOrphanedSchedule(t *testing.T) {
	scheduler, persist, _ := setupScheduler(t)
	ctx := context.Background()

	schedule, err := models.NewSchedule(uuid.NewString(), "gone-workflow", "* * * * *", "")
	require.NoError(t, err)
	schedule.NextDueAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, persist.ScheduleRepository().Save(ctx, schedule))

	scheduler.Tick(ctx, time.Now().UTC())

	_, err = persist.ScheduleRepository().GetByWorkflowID(ctx, "gone-workflow")
	assert.True(t, persistence.IsScheduleNotFound(err))
}
