package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/template"
)

// DryRunStepResult is the outcome of one step in a test run.
type DryRunStepResult struct {
	StepID   string          `json:"step_id"`
	StepType models.StepType `json:"step_type"`
	Status   string          `json:"status"` // completed, simulated, failed
	Output   any             `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// DryRunResult summarizes a test run of a workflow definition.
type DryRunResult struct {
	Success bool               `json:"success"`
	Steps   []DryRunStepResult `json:"steps"`
	Errors  []string           `json:"errors,omitempty"`
}

// DryRun executes a workflow definition without persisting any state and
// without side effects from send_email and delay steps: those are simulated,
// returning their resolved configuration instead of acting on it. Other step
// types run for real. Failures are collected rather than aborting, so
// authors see every broken step in one pass.
func (e *Engine) DryRun(
	ctx context.Context,
	workflow *models.Workflow,
	triggerData map[string]any,
) (*DryRunResult, error) {
	logger := e.logger.With("workflow_id", workflow.ID, "dry_run", true)
	logger.Info("Starting dry run")

	executionCtx := models.NewExecutionContext(
		"dry-run-"+uuid.NewString(),
		workflow.ID,
		models.TriggerTypeManual,
		triggerData,
	)

	result := &DryRunResult{
		Success: true,
		Steps:   make([]DryRunStepResult, 0, len(workflow.Definition.Steps)),
	}

	for _, step := range workflow.Definition.Steps {
		stepResult := e.dryRunStep(ctx, step, executionCtx, logger)

		if stepResult.Error != "" {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("Step %s failed: %s", step.ID, stepResult.Error))
		} else {
			executionCtx.MergeStepResult(step.ID, stepResult.Output)
		}

		result.Steps = append(result.Steps, stepResult)
	}

	logger.Info("Dry run finished", "success", result.Success, "steps", len(result.Steps))

	return result, nil
}

func (e *Engine) dryRunStep(
	ctx context.Context,
	step models.WorkflowStep,
	executionCtx *models.ExecutionContext,
	logger *slog.Logger,
) DryRunStepResult {
	stepResult := DryRunStepResult{
		StepID:   step.ID,
		StepType: step.Type,
	}

	switch step.Type {
	case models.StepTypeSendEmail, models.StepTypeDelay:
		resolved := template.ResolveConfig(step.Config, executionCtx.Data)

		stepResult.Status = "simulated"
		stepResult.Output = map[string]any{
			"simulated": true,
			"message":   fmt.Sprintf("%s step skipped in dry run", step.Type),
			"config":    resolved,
		}

		return stepResult
	default:
		output, err := e.runExecutor(ctx, step, executionCtx, logger)
		if err != nil {
			stepResult.Status = "failed"
			stepResult.Error = err.Error()

			return stepResult
		}

		stepResult.Status = "completed"
		stepResult.Output = output

		return stepResult
	}
}
