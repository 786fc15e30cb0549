package file

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/persistence"
)

func testWorkflow(id, name string) *models.Workflow {
	return &models.Workflow{
		ID:   id,
		Name: name,
		Definition: &models.WorkflowDefinition{
			Trigger: models.TriggerConfig{Type: models.TriggerTypeManual},
			Steps: []models.WorkflowStep{
				{
					ID:   "step-1",
					Name: "Fetch",
					Type: models.StepTypeHTTPRequest,
					Config: map[string]any{
						"method": "GET",
						"url":    "https://api.example.com/data",
					},
				},
			},
		},
		Status: models.WorkflowStatusDraft,
		Owner:  "user-1",
	}
}

func TestWorkflowRepository_SaveAndGetByID(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())
	ctx := context.Background()

	workflow := testWorkflow("wf-1", "Test Workflow")
	require.NoError(t, repo.Save(ctx, workflow))

	assert.False(t, workflow.CreatedAt.IsZero())
	assert.False(t, workflow.UpdatedAt.IsZero())

	loaded, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Workflow", loaded.Name)
	require.NotNil(t, loaded.Definition)
	require.Len(t, loaded.Definition.Steps, 1)
	assert.Equal(t, models.StepTypeHTTPRequest, loaded.Definition.Steps[0].Type)
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_GetByWebhookID(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())
	ctx := context.Background()

	active := testWorkflow("wf-active", "Active")
	active.WebhookID = "hook-1"
	active.IsActive = true
	require.NoError(t, repo.Save(ctx, active))

	inactive := testWorkflow("wf-inactive", "Inactive")
	inactive.WebhookID = "hook-2"
	require.NoError(t, repo.Save(ctx, inactive))

	found, err := repo.GetByWebhookID(ctx, "hook-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-active", found.ID)

	// Inactive workflows are not resolvable by webhook
	_, err = repo.GetByWebhookID(ctx, "hook-2")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_List_FilterAndPaginate(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())
	ctx := context.Background()

	for i, owner := range []string{"alice", "alice", "bob"} {
		workflow := testWorkflow(uuid.NewString(), "Workflow")
		workflow.Owner = owner
		workflow.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Save(ctx, workflow))
	}

	result, err := repo.List(ctx, persistence.ListWorkflowsOptions{Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.Len(t, result.Workflows, 2)
	assert.False(t, result.HasNextPage)

	paged, err := repo.List(ctx, persistence.ListWorkflowsOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), paged.TotalCount)
	assert.Len(t, paged.Workflows, 2)
	assert.True(t, paged.HasNextPage)
}

func TestWorkflowRepository_Delete(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testWorkflow("wf-del", "Doomed")))
	require.NoError(t, repo.Delete(ctx, "wf-del"))

	_, err := repo.GetByID(ctx, "wf-del")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = repo.Delete(ctx, "wf-del")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	execution := &models.Execution{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusPending,
		TriggerType: models.TriggerTypeManual,
	}
	require.NoError(t, repo.CreateExecution(ctx, execution))

	execution.Status = models.ExecutionStatusRunning
	now := time.Now().UTC()
	execution.StartedAt = &now
	require.NoError(t, repo.UpdateExecution(ctx, execution))

	loaded, err := repo.GetExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, loaded.Status)
	require.NotNil(t, loaded.StartedAt)
}

func TestExecutionRepository_StepExecutions(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	execution := &models.Execution{
		ID:          "exec-2",
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusRunning,
		TriggerType: models.TriggerTypeWebhook,
	}
	require.NoError(t, repo.CreateExecution(ctx, execution))

	first := &models.StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: "exec-2",
		StepID:      "step-1",
		StepType:    models.StepTypeHTTPRequest,
		Status:      models.ExecutionStatusRunning,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.CreateStepExecution(ctx, first))

	second := &models.StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: "exec-2",
		StepID:      "step-2",
		StepType:    models.StepTypeDelay,
		Status:      models.ExecutionStatusPending,
		CreatedAt:   time.Now().UTC().Add(time.Millisecond),
	}
	require.NoError(t, repo.CreateStepExecution(ctx, second))

	first.Status = models.ExecutionStatusCompleted
	first.OutputData = map[string]any{"status": float64(200)}
	require.NoError(t, repo.UpdateStepExecution(ctx, first))

	steps, err := repo.ListStepExecutionsByExecution(ctx, "exec-2")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "step-1", steps[0].StepID)
	assert.Equal(t, models.ExecutionStatusCompleted, steps[0].Status)
	assert.Equal(t, "step-2", steps[1].StepID)
}

func TestExecutionRepository_UpdateStepExecution_Missing(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	require.NoError(t, repo.CreateExecution(ctx, &models.Execution{
		ID:         "exec-3",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
	}))

	err := repo.UpdateStepExecution(ctx, &models.StepExecution{
		ID:          "missing-step",
		ExecutionID: "exec-3",
	})
	assert.ErrorIs(t, err, persistence.ErrStepExecutionNotFound)
}

func TestExecutionRepository_ListExecutionsByWorkflow(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	ctx := context.Background()

	for i := range 3 {
		execution := &models.Execution{
			ID:         uuid.NewString(),
			WorkflowID: "wf-list",
			Status:     models.ExecutionStatusCompleted,
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.CreateExecution(ctx, execution))
	}

	require.NoError(t, repo.CreateExecution(ctx, &models.Execution{
		ID:         uuid.NewString(),
		WorkflowID: "wf-other",
		Status:     models.ExecutionStatusCompleted,
	}))

	executions, total, err := repo.ListExecutionsByWorkflow(ctx, "wf-list", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, executions, 2)
	// Newest first
	assert.True(t, executions[0].CreatedAt.After(executions[1].CreatedAt))
}

func TestScheduleRepository_SaveAndDue(t *testing.T) {
	repo := NewScheduleRepository(t.TempDir())
	ctx := context.Background()

	schedule, err := models.NewSchedule("sched-1", "wf-1", "*/5 * * * *", "")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, schedule))

	loaded, err := repo.GetByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", loaded.CronExpression)

	// Not yet due
	due, err := repo.DueSchedules(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due)

	// Force it due and check again
	loaded.NextDueAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, repo.Save(ctx, loaded))

	due, err = repo.DueSchedules(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "wf-1", due[0].WorkflowID)
}

func TestScheduleRepository_DeleteIsIdempotent(t *testing.T) {
	repo := NewScheduleRepository(t.TempDir())
	ctx := context.Background()

	schedule, err := models.NewSchedule("sched-2", "wf-2", "0 9 * * 1-5", "America/New_York")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, schedule))

	require.NoError(t, repo.DeleteByWorkflowID(ctx, "wf-2"))
	require.NoError(t, repo.DeleteByWorkflowID(ctx, "wf-2"))

	_, err = repo.GetByWorkflowID(ctx, "wf-2")
	assert.ErrorIs(t, err, persistence.ErrScheduleNotFound)
}

func TestPersistence_HealthCheck(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence("file://" + dir)

	require.NoError(t, p.HealthCheck(context.Background()))
	require.NoError(t, p.Close(context.Background()))

	missing := NewPersistence(dir + "/does-not-exist")
	assert.Error(t, missing.HealthCheck(context.Background()))
}
