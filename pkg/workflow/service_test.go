package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/persistence"
	"github.com/conveyorhq/conveyor/pkg/persistence/file"
	"github.com/conveyorhq/conveyor/pkg/queue"
	"github.com/conveyorhq/conveyor/pkg/queue/memoryqueue"
)

func newTestService(t *testing.T) (*Service, persistence.Persistence, *memoryqueue.Dispatcher) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	dispatcher := memoryqueue.NewDispatcher(queue.Config{}, testLogger())

	return NewService(persist, dispatcher, testLogger()), persist, dispatcher
}

func definitionWithTrigger(trigger models.TriggerConfig) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Trigger: trigger,
		Steps: []models.WorkflowStep{
			{
				ID:   "fetch",
				Type: models.StepTypeHTTPRequest,
				Config: map[string]any{
					"method": "GET",
					"url":    "https://api.example.com/report",
				},
			},
		},
	}
}

func TestService_Create_MintsWebhookID(t *testing.T) {
	service, _, _ := newTestService(t)

	created, err := service.Create(context.Background(), &models.Workflow{
		Name:       "Webhook Intake",
		Definition: definitionWithTrigger(models.TriggerConfig{Type: models.TriggerTypeWebhook}),
	})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
	assert.False(t, created.IsActive)
	assert.NotEmpty(t, created.WebhookID)
}

func TestService_Create_RejectsInvalidDefinition(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Create(context.Background(), &models.Workflow{
		Name: "Broken",
		Definition: &models.WorkflowDefinition{
			Trigger: models.TriggerConfig{Type: models.TriggerTypeManual},
			Steps:   []models.WorkflowStep{},
		},
	})
	require.Error(t, err)
}

func TestService_Activate_CreatesScheduleRow(t *testing.T) {
	service, persist, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, &models.Workflow{
		Name: "Nightly Report",
		Definition: definitionWithTrigger(models.TriggerConfig{
			Type:     models.TriggerTypeSchedule,
			Cron:     "0 2 * * *",
			Timezone: "UTC",
		}),
	})
	require.NoError(t, err)

	activated, err := service.Activate(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)
	assert.True(t, activated.IsActive)

	schedule, err := persist.ScheduleRepository().GetByWorkflowID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", schedule.CronExpression)
	assert.True(t, schedule.Active)
	assert.True(t, schedule.NextDueAt.After(time.Now().UTC().Add(-time.Minute)))
}

func TestService_Activate_InvalidCronLeavesErrorStatus(t *testing.T) {
	service, persist, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, &models.Workflow{
		Name: "Bad Cron",
		Definition: definitionWithTrigger(models.TriggerConfig{
			Type: models.TriggerTypeSchedule,
			Cron: "not a cron",
		}),
	})
	require.NoError(t, err)

	_, err = service.Activate(ctx, created.ID)
	require.Error(t, err)

	stored, err := persist.WorkflowRepository().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusError, stored.Status)
}

func TestService_Deactivate_RemovesSchedule(t *testing.T) {
	service, persist, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, &models.Workflow{
		Name: "Hourly Sync",
		Definition: definitionWithTrigger(models.TriggerConfig{
			Type: models.TriggerTypeSchedule,
			Cron: "0 * * * *",
		}),
	})
	require.NoError(t, err)

	_, err = service.Activate(ctx, created.ID)
	require.NoError(t, err)

	deactivated, err := service.Deactivate(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPaused, deactivated.Status)
	assert.False(t, deactivated.IsActive)

	_, err = persist.ScheduleRepository().GetByWorkflowID(ctx, created.ID)
	assert.ErrorIs(t, err, persistence.ErrScheduleNotFound)

	// Deactivating twice is fine
	_, err = service.Deactivate(ctx, created.ID)
	require.NoError(t, err)
}

func TestService_TriggerExecution_CreatesPendingAndEnqueues(t *testing.T) {
	service, persist, dispatcher := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, &models.Workflow{
		Name:       "Manual Run",
		Definition: definitionWithTrigger(models.TriggerConfig{Type: models.TriggerTypeManual}),
	})
	require.NoError(t, err)

	execution, err := service.TriggerExecution(ctx, created, models.TriggerTypeManual, map[string]any{"reason": "test"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)

	stored, err := persist.ExecutionRepository().GetExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerTypeManual, stored.TriggerType)
	assert.Equal(t, map[string]any{"reason": "test"}, stored.TriggerData)

	require.NoError(t, dispatcher.Stop(ctx))
}

func TestService_TriggerExecution_RejectsAutomatedTriggerWhenInactive(t *testing.T) {
	service, _, dispatcher := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, &models.Workflow{
		Name: "Nightly Job",
		Definition: definitionWithTrigger(models.TriggerConfig{
			Type: models.TriggerTypeSchedule,
			Cron: "0 2 * * *",
		}),
	})
	require.NoError(t, err)

	_, err = service.TriggerExecution(ctx, created, models.TriggerTypeSchedule, nil)
	assert.ErrorIs(t, err, ErrWorkflowNotActive)

	// Manual runs work regardless of activation status.
	_, err = service.TriggerExecution(ctx, created, models.TriggerTypeManual, nil)
	require.NoError(t, err)

	require.NoError(t, dispatcher.Stop(ctx))
}

func TestService_TriggerWebhook_RequiresActiveWorkflow(t *testing.T) {
	service, _, dispatcher := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, &models.Workflow{
		Name:       "Webhook Intake",
		Definition: definitionWithTrigger(models.TriggerConfig{Type: models.TriggerTypeWebhook}),
	})
	require.NoError(t, err)

	// Draft workflows are not resolvable by webhook ID
	_, err = service.TriggerWebhook(ctx, created.WebhookID, map[string]any{"event": "push"})
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = service.Activate(ctx, created.ID)
	require.NoError(t, err)

	execution, err := service.TriggerWebhook(ctx, created.WebhookID, map[string]any{"event": "push"})
	require.NoError(t, err)
	assert.Equal(t, models.TriggerTypeWebhook, execution.TriggerType)

	require.NoError(t, dispatcher.Stop(ctx))
}
