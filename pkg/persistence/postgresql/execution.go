package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/persistence"
)

// ExecutionRepository handles execution and step execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `id, workflow_id, status, trigger_type, trigger_data, error, started_at, completed_at, created_at`

// CreateExecution inserts a new execution row.
func (er *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	triggerDataJSON, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO executions (id, workflow_id, status, trigger_type, trigger_data, error, started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = er.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		execution.TriggerType,
		triggerDataJSON,
		execution.Error,
		execution.StartedAt,
		execution.CompletedAt,
		execution.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", execution.ID, err)
	}

	return nil
}

// GetExecutionByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := er.scanExecution(er.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// UpdateExecution replaces the mutable fields of an execution row.
func (er *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	query := `
		UPDATE executions
		SET status = $2, error = $3, started_at = $4, completed_at = $5
		WHERE id = $1
	`

	result, err := er.db.ExecContext(ctx, query,
		execution.ID,
		execution.Status,
		execution.Error,
		execution.StartedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("UpdateExecution", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// ListExecutionsByWorkflow returns executions for a workflow, newest first.
func (er *ExecutionRepository) ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit, offset int) ([]*models.Execution, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var totalCount int64
	if err := er.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM executions WHERE workflow_id = $1", workflowID,
	).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := er.db.QueryContext(ctx, query, workflowID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	executions := make([]*models.Execution, 0, limit)

	for rows.Next() {
		execution, err := er.scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, totalCount, nil
}

// CreateStepExecution inserts a new step execution row.
func (er *ExecutionRepository) CreateStepExecution(ctx context.Context, stepExecution *models.StepExecution) error {
	inputJSON, err := json.Marshal(stepExecution.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}

	outputJSON, err := json.Marshal(stepExecution.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	if stepExecution.CreatedAt.IsZero() {
		stepExecution.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO step_executions (id, execution_id, step_id, step_type, status, input_data, output_data, error, started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = er.db.ExecContext(ctx, query,
		stepExecution.ID,
		stepExecution.ExecutionID,
		stepExecution.StepID,
		stepExecution.StepType,
		stepExecution.Status,
		inputJSON,
		outputJSON,
		stepExecution.Error,
		stepExecution.StartedAt,
		stepExecution.CompletedAt,
		stepExecution.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create step execution %s: %w", stepExecution.ID, err)
	}

	return nil
}

// UpdateStepExecution replaces the mutable fields of a step execution row.
func (er *ExecutionRepository) UpdateStepExecution(ctx context.Context, stepExecution *models.StepExecution) error {
	outputJSON, err := json.Marshal(stepExecution.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	query := `
		UPDATE step_executions
		SET status = $2, output_data = $3, error = $4, completed_at = $5
		WHERE id = $1
	`

	result, err := er.db.ExecContext(ctx, query,
		stepExecution.ID,
		stepExecution.Status,
		outputJSON,
		stepExecution.Error,
		stepExecution.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update step execution %s: %w", stepExecution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrStepExecutionNotFound
	}

	return nil
}

// ListStepExecutionsByExecution returns step rows in creation order.
func (er *ExecutionRepository) ListStepExecutionsByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	query := `
		SELECT id, execution_id, step_id, step_type, status, input_data, output_data, error, started_at, completed_at, created_at
		FROM step_executions
		WHERE execution_id = $1
		ORDER BY created_at
	`

	rows, err := er.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	steps := make([]*models.StepExecution, 0)

	for rows.Next() {
		step, err := er.scanStepExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}

	return steps, nil
}

func (er *ExecutionRepository) scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution       models.Execution
		triggerDataJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&execution.TriggerType,
		&triggerDataJSON,
		&execution.Error,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(triggerDataJSON) > 0 {
		if err := json.Unmarshal(triggerDataJSON, &execution.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}

	return &execution, nil
}

func (er *ExecutionRepository) scanStepExecution(row rowScanner) (*models.StepExecution, error) {
	var (
		step       models.StepExecution
		inputJSON  []byte
		outputJSON []byte
	)

	err := row.Scan(
		&step.ID,
		&step.ExecutionID,
		&step.StepID,
		&step.StepType,
		&step.Status,
		&inputJSON,
		&outputJSON,
		&step.Error,
		&step.StartedAt,
		&step.CompletedAt,
		&step.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &step.InputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step input: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &step.OutputData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
		}
	}

	return &step, nil
}
