package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/persistence"
)

// ExecutionRepository handles execution and step execution file operations.
// Executions are stored one JSON file per execution under executions/, with
// step executions embedded alongside in a sibling document.
type ExecutionRepository struct {
	root string
	mu   sync.RWMutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

// executionRecord is the on-disk shape: execution plus its step rows.
type executionRecord struct {
	Execution      *models.Execution       `json:"execution"`
	StepExecutions []*models.StepExecution `json:"step_executions"`
}

func validateID(id string) error {
	if id == "" {
		return errors.New("identifier cannot be empty")
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("identifier contains invalid characters")
	}

	return nil
}

// CreateExecution persists a new execution record.
func (er *ExecutionRepository) CreateExecution(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return err
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	record := &executionRecord{
		Execution:      execution,
		StepExecutions: make([]*models.StepExecution, 0),
	}

	return er.writeRecord(record)
}

// GetExecutionByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	er.mu.RLock()
	defer er.mu.RUnlock()

	record, err := er.readRecord(id)
	if err != nil {
		return nil, err
	}

	return record.Execution, nil
}

// UpdateExecution replaces the stored execution, keeping its step rows.
func (er *ExecutionRepository) UpdateExecution(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return err
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	record, err := er.readRecord(execution.ID)
	if err != nil {
		return err
	}

	record.Execution = execution

	return er.writeRecord(record)
}

// ListExecutionsByWorkflow returns executions for a workflow, newest first.
func (er *ExecutionRepository) ListExecutionsByWorkflow(_ context.Context, workflowID string, limit, offset int) ([]*models.Execution, int64, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	root := os.DirFS(path.Join(er.root, "executions"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.Execution, 0)

	for _, file := range jsonFiles {
		executionID := file[:len(file)-5]

		record, err := er.readRecord(executionID)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load execution %s: %w", executionID, err)
		}

		if record.Execution.WorkflowID == workflowID {
			executions = append(executions, record.Execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	totalCount := int64(len(executions))

	if offset >= len(executions) {
		return make([]*models.Execution, 0), totalCount, nil
	}

	end := offset + limit
	if end > len(executions) {
		end = len(executions)
	}

	return executions[offset:end], totalCount, nil
}

// CreateStepExecution appends a step execution row to its parent record.
func (er *ExecutionRepository) CreateStepExecution(_ context.Context, stepExecution *models.StepExecution) error {
	if err := validateID(stepExecution.ExecutionID); err != nil {
		return err
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	record, err := er.readRecord(stepExecution.ExecutionID)
	if err != nil {
		return err
	}

	if stepExecution.CreatedAt.IsZero() {
		stepExecution.CreatedAt = time.Now().UTC()
	}

	record.StepExecutions = append(record.StepExecutions, stepExecution)

	return er.writeRecord(record)
}

// UpdateStepExecution replaces a step execution row in its parent record.
func (er *ExecutionRepository) UpdateStepExecution(_ context.Context, stepExecution *models.StepExecution) error {
	if err := validateID(stepExecution.ExecutionID); err != nil {
		return err
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	record, err := er.readRecord(stepExecution.ExecutionID)
	if err != nil {
		return err
	}

	for i, existing := range record.StepExecutions {
		if existing.ID == stepExecution.ID {
			record.StepExecutions[i] = stepExecution

			return er.writeRecord(record)
		}
	}

	return persistence.ErrStepExecutionNotFound
}

// ListStepExecutionsByExecution returns step rows in creation order.
func (er *ExecutionRepository) ListStepExecutionsByExecution(_ context.Context, executionID string) ([]*models.StepExecution, error) {
	if err := validateID(executionID); err != nil {
		return nil, err
	}

	er.mu.RLock()
	defer er.mu.RUnlock()

	record, err := er.readRecord(executionID)
	if err != nil {
		return nil, err
	}

	steps := make([]*models.StepExecution, len(record.StepExecutions))
	copy(steps, record.StepExecutions)

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})

	return steps, nil
}

func (er *ExecutionRepository) readRecord(executionID string) (*executionRecord, error) {
	filePath := filepath.Clean(path.Join(er.root, "executions", executionID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("Get", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", executionID, err)
	}

	var record executionRecord

	err = json.Unmarshal(body, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", executionID, err)
	}

	return &record, nil
}

func (er *ExecutionRepository) writeRecord(record *executionRecord) error {
	err := os.MkdirAll(path.Join(er.root, "executions"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", record.Execution.ID, err)
	}

	filePath := path.Join(er.root, "executions", record.Execution.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}
