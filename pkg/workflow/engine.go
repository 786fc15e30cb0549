// Package workflow contains the execution engine: it runs a stored
// workflow definition step by step against durable execution state.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/pkg/eventbus"
	"github.com/conveyorhq/conveyor/pkg/events"
	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/persistence"
	"github.com/conveyorhq/conveyor/pkg/registry"
)

// Engine executes workflows sequentially: steps run in definition order,
// each successful result is merged into the execution context, and the
// first failure aborts the run. All state transitions are persisted before
// and after each step so a retried execution resumes instead of redoing
// completed work.
type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	workerID    string
}

// NewEngine creates an execution engine. The event bus may be nil; lifecycle
// events are then skipped.
func NewEngine(
	persist persistence.Persistence,
	reg *registry.Registry,
	bus eventbus.EventBus,
	logger *slog.Logger,
	workerID string,
) *Engine {
	return &Engine{
		persistence: persist,
		registry:    reg,
		eventBus:    bus,
		logger:      logger.With("module", "engine"),
		workerID:    workerID,
	}
}

// StartExecution creates a pending execution record for a workflow. The
// caller (API handler or trigger) enqueues the returned execution ID for a
// worker to pick up.
func (e *Engine) StartExecution(
	ctx context.Context,
	workflow *models.Workflow,
	triggerType models.TriggerType,
	triggerData map[string]any,
) (*models.Execution, error) {
	execution := &models.Execution{
		ID:          uuid.NewString(),
		WorkflowID:  workflow.ID,
		Status:      models.ExecutionStatusPending,
		TriggerType: triggerType,
		TriggerData: triggerData,
		CreatedAt:   time.Now().UTC(),
	}

	if err := e.persistence.ExecutionRepository().CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	return execution, nil
}

// Execute runs an execution to a terminal state. It is safe to call again
// for a failed execution: completed steps are replayed from their stored
// outputs and execution resumes at the first step without a completed row.
// The returned error is the step failure, so callers can retry the job.
func (e *Engine) Execute(ctx context.Context, executionID string) error {
	logger := e.logger.With("execution_id", executionID)

	executions := e.persistence.ExecutionRepository()

	execution, err := executions.GetExecutionByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to fetch execution %s: %w", executionID, err)
	}

	if execution.Status == models.ExecutionStatusCompleted || execution.Status == models.ExecutionStatusCancelled {
		logger.Info("Execution already terminal, nothing to do", "status", execution.Status)

		return nil
	}

	// A missing workflow is a definition error, not a step failure: leave
	// the execution untouched and let the dispatcher's retry budget run out.
	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to fetch workflow %s: %w", execution.WorkflowID, err)
	}

	logger = logger.With("workflow_id", workflow.ID)
	logger.Info("Starting workflow execution", "trigger_type", execution.TriggerType)

	startedAt := time.Now().UTC()
	if execution.StartedAt == nil {
		execution.StartedAt = &startedAt
	}

	execution.Status = models.ExecutionStatusRunning
	execution.Error = ""

	if err := executions.UpdateExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to mark execution running: %w", err)
	}

	e.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, workflow.ID),
		ExecutionID: execution.ID,
		TriggerType: execution.TriggerType,
		TriggerData: execution.TriggerData,
	})

	executionCtx := models.NewExecutionContext(execution.ID, workflow.ID, execution.TriggerType, execution.TriggerData)

	completed, err := e.replayCompletedSteps(ctx, execution.ID, executionCtx)
	if err != nil {
		return e.failExecution(ctx, execution, "", err)
	}

	for _, step := range workflow.Definition.Steps {
		if _, done := completed[step.ID]; done {
			continue
		}

		if err := e.executeStep(ctx, execution, step, executionCtx, logger); err != nil {
			return e.failExecution(ctx, execution, step.ID, fmt.Errorf("Step %s failed: %s", step.ID, err.Error()))
		}
	}

	completedAt := time.Now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &completedAt

	if err := executions.UpdateExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to mark execution completed: %w", err)
	}

	e.publish(ctx, execution.ID, events.ExecutionCompleted{
		BaseEvent:   e.baseEvent(events.ExecutionCompletedEvent, workflow.ID),
		ExecutionID: execution.ID,
		Duration:    completedAt.Sub(*execution.StartedAt),
	})

	logger.Info("Workflow execution completed", "duration", completedAt.Sub(*execution.StartedAt))

	return nil
}

// replayCompletedSteps merges the outputs of already-completed steps into
// the context and returns their step IDs.
func (e *Engine) replayCompletedSteps(
	ctx context.Context,
	executionID string,
	executionCtx *models.ExecutionContext,
) (map[string]struct{}, error) {
	stepExecutions, err := e.persistence.ExecutionRepository().ListStepExecutionsByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step executions: %w", err)
	}

	completed := make(map[string]struct{}, len(stepExecutions))

	for _, stepExecution := range stepExecutions {
		if stepExecution.Status != models.ExecutionStatusCompleted {
			continue
		}

		executionCtx.MergeStepResult(stepExecution.StepID, stepExecution.OutputData)
		completed[stepExecution.StepID] = struct{}{}
	}

	return completed, nil
}

func (e *Engine) executeStep(
	ctx context.Context,
	execution *models.Execution,
	step models.WorkflowStep,
	executionCtx *models.ExecutionContext,
	logger *slog.Logger,
) error {
	stepLogger := logger.With("step_id", step.ID, "step_type", step.Type)
	stepLogger.Info("Executing step")

	startedAt := time.Now().UTC()
	stepExecution := &models.StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepType:    step.Type,
		Status:      models.ExecutionStatusRunning,
		InputData:   executionCtx.Snapshot(),
		StartedAt:   &startedAt,
		CreatedAt:   startedAt,
	}

	if err := e.persistence.ExecutionRepository().CreateStepExecution(ctx, stepExecution); err != nil {
		return fmt.Errorf("failed to create step execution: %w", err)
	}

	e.publish(ctx, execution.ID, events.StepStarted{
		BaseEvent:   e.baseEvent(events.StepStartedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepType:    step.Type,
	})

	result, stepErr := e.runExecutor(ctx, step, executionCtx, stepLogger)

	completedAt := time.Now().UTC()
	stepExecution.CompletedAt = &completedAt
	durationMs := completedAt.Sub(startedAt).Milliseconds()

	if stepErr != nil {
		stepExecution.Status = models.ExecutionStatusFailed
		stepExecution.Error = stepErr.Error()

		if err := e.persistence.ExecutionRepository().UpdateStepExecution(ctx, stepExecution); err != nil {
			stepLogger.Error("Failed to persist step failure", "error", err)
		}

		e.publish(ctx, execution.ID, events.StepFailed{
			BaseEvent:   e.baseEvent(events.StepFailedEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			StepID:      step.ID,
			StepType:    step.Type,
			Error:       stepErr.Error(),
			DurationMs:  durationMs,
		})

		stepLogger.Error("Step failed", "error", stepErr)

		return stepErr
	}

	stepExecution.Status = models.ExecutionStatusCompleted
	stepExecution.OutputData = result

	if err := e.persistence.ExecutionRepository().UpdateStepExecution(ctx, stepExecution); err != nil {
		return fmt.Errorf("failed to persist step result: %w", err)
	}

	executionCtx.MergeStepResult(step.ID, result)

	e.publish(ctx, execution.ID, events.StepCompleted{
		BaseEvent:   e.baseEvent(events.StepCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepType:    step.Type,
		DurationMs:  durationMs,
	})

	stepLogger.Info("Step completed", "duration_ms", durationMs)

	return nil
}

func (e *Engine) runExecutor(
	ctx context.Context,
	step models.WorkflowStep,
	executionCtx *models.ExecutionContext,
	logger *slog.Logger,
) (any, error) {
	executor, err := e.registry.CreateExecutor(step.Type, step.Config)
	if err != nil {
		return nil, err
	}

	return executor.Execute(ctx, *executionCtx, logger)
}

// failExecution records a failed terminal state and returns the failure so
// the dispatcher can schedule a retry.
func (e *Engine) failExecution(ctx context.Context, execution *models.Execution, stepID string, failure error) error {
	completedAt := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.Error = failure.Error()
	execution.CompletedAt = &completedAt

	if err := e.persistence.ExecutionRepository().UpdateExecution(ctx, execution); err != nil {
		e.logger.Error("Failed to persist execution failure", "execution_id", execution.ID, "error", err)
	}

	var duration time.Duration
	if execution.StartedAt != nil {
		duration = completedAt.Sub(*execution.StartedAt)
	}

	e.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:   e.baseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepID:      stepID,
		Error:       failure.Error(),
		Duration:    duration,
	})

	return failure
}

func (e *Engine) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, workflowID)
	base.WorkerID = e.workerID

	return base
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		e.logger.Warn("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
