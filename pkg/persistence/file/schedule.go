package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/persistence"
)

// ScheduleRepository handles schedule-related file operations. Schedules
// are keyed by workflow ID since a workflow carries at most one schedule.
type ScheduleRepository struct {
	root string
	mu   sync.RWMutex
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(root string) *ScheduleRepository {
	return &ScheduleRepository{root: root}
}

// Save persists a schedule, replacing any existing one for the workflow.
func (sr *ScheduleRepository) Save(_ context.Context, schedule *models.Schedule) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	err := os.MkdirAll(path.Join(sr.root, "schedules"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create schedules directory: %w", err)
	}

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now().UTC()
	}

	schedule.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(schedule, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schedule for workflow %s: %w", schedule.WorkflowID, err)
	}

	filePath := path.Join(sr.root, "schedules", schedule.WorkflowID+".json")

	return os.WriteFile(filePath, data, 0600)
}

// GetByWorkflowID retrieves the schedule for a workflow.
func (sr *ScheduleRepository) GetByWorkflowID(_ context.Context, workflowID string) (*models.Schedule, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	return sr.readSchedule(workflowID)
}

// DeleteByWorkflowID removes the schedule for a workflow. Deleting a
// missing schedule is not an error; deactivation must be idempotent.
func (sr *ScheduleRepository) DeleteByWorkflowID(_ context.Context, workflowID string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	filePath := path.Join(sr.root, "schedules", workflowID+".json")

	err := os.Remove(filePath)
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete schedule for workflow %s: %w", workflowID, err)
	}

	return nil
}

// DueSchedules returns active schedules whose next execution time has passed.
func (sr *ScheduleRepository) DueSchedules(_ context.Context, now time.Time) ([]*models.Schedule, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	root := os.DirFS(path.Join(sr.root, "schedules"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule files: %w", err)
	}

	due := make([]*models.Schedule, 0)

	for _, file := range jsonFiles {
		workflowID := file[:len(file)-5]

		schedule, err := sr.readSchedule(workflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to load schedule for workflow %s: %w", workflowID, err)
		}

		if schedule.IsDue(now) {
			due = append(due, schedule)
		}
	}

	return due, nil
}

func (sr *ScheduleRepository) readSchedule(workflowID string) (*models.Schedule, error) {
	filePath := filepath.Clean(path.Join(sr.root, "schedules", workflowID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to fetch schedule for workflow %s: %w", workflowID, err)
	}

	var schedule models.Schedule

	err = json.Unmarshal(body, &schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule for workflow %s: %w", workflowID, err)
	}

	return &schedule, nil
}
