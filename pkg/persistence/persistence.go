// Package persistence provides the storage abstraction for workflows,
// executions, and schedules.
package persistence

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	ScheduleRepository() ScheduleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters and paginates workflow listings.
type ListWorkflowsOptions struct {
	Owner  string
	Status *models.WorkflowStatus
	Limit  int
	Offset int
}

// WorkflowListResult is a page of workflows with total bookkeeping.
type WorkflowListResult struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	// GetByWebhookID resolves a webhook delivery target; only active
	// workflows are eligible.
	GetByWebhookID(ctx context.Context, webhookID string) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository persists execution and step-execution state
// transitions. All operations are single-row; the engine requires no
// cross-row transactions.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	GetExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	UpdateExecution(ctx context.Context, execution *models.Execution) error
	ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit, offset int) ([]*models.Execution, int64, error)

	CreateStepExecution(ctx context.Context, stepExecution *models.StepExecution) error
	UpdateStepExecution(ctx context.Context, stepExecution *models.StepExecution) error
	ListStepExecutionsByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error)
}

type ScheduleRepository interface {
	Save(ctx context.Context, schedule *models.Schedule) error
	GetByWorkflowID(ctx context.Context, workflowID string) (*models.Schedule, error)
	DeleteByWorkflowID(ctx context.Context, workflowID string) error
	// DueSchedules returns active schedules whose NextDueAt is at or
	// before now.
	DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error)
}
