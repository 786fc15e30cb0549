package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/persistence"
	"github.com/conveyorhq/conveyor/pkg/queue"
)

// ErrWorkflowNotActive is returned when a trigger fires for a workflow
// whose triggers are not live.
var ErrWorkflowNotActive = errors.New("workflow is not active")

// Service owns the workflow lifecycle: create, update, activate,
// deactivate, delete, and triggering executions. Activation is where
// trigger side effects happen: schedule rows are written for schedule
// triggers and webhook IDs minted for webhook triggers.
type Service struct {
	persistence persistence.Persistence
	dispatcher  queue.Dispatcher
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewService creates a workflow service. The dispatcher may be nil for
// read-only deployments; triggering executions then fails.
func NewService(persist persistence.Persistence, dispatcher queue.Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		persistence: persist,
		dispatcher:  dispatcher,
		validator:   validator.New(),
		logger:      logger.With("module", "workflow_service"),
	}
}

// Create validates and stores a new workflow in draft status.
func (s *Service) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	workflow.Status = models.WorkflowStatusDraft
	workflow.IsActive = false

	if err := s.validate(workflow); err != nil {
		return nil, err
	}

	s.ensureWebhookID(workflow)

	if err := s.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID, "name", workflow.Name)

	return workflow, nil
}

// Update replaces a workflow's mutable fields, preserving identity and
// lifecycle state. An active workflow keeps its schedule in sync with the
// updated trigger.
func (s *Service) Update(ctx context.Context, id string, workflow *models.Workflow) (*models.Workflow, error) {
	existing, err := s.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow.ID = id
	workflow.Status = existing.Status
	workflow.IsActive = existing.IsActive
	workflow.WebhookID = existing.WebhookID
	workflow.CreatedAt = existing.CreatedAt

	if workflow.Owner == "" {
		workflow.Owner = existing.Owner
	}

	if err := s.validate(workflow); err != nil {
		return nil, err
	}

	s.ensureWebhookID(workflow)

	if err := s.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, err
	}

	if workflow.IsActive {
		if err := s.syncSchedule(ctx, workflow); err != nil {
			return nil, err
		}
	}

	return workflow, nil
}

// Get retrieves a workflow by ID.
func (s *Service) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return s.persistence.WorkflowRepository().GetByID(ctx, id)
}

// List returns a filtered page of workflows.
func (s *Service) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	return s.persistence.WorkflowRepository().List(ctx, opts)
}

// Delete removes a workflow and its schedule.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.persistence.ScheduleRepository().DeleteByWorkflowID(ctx, id); err != nil {
		return err
	}

	return s.persistence.WorkflowRepository().Delete(ctx, id)
}

// Activate turns a workflow's triggers live. A validation failure leaves
// the workflow in error status so the problem is visible.
func (s *Service) Activate(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.validate(workflow); err != nil {
		workflow.Status = models.WorkflowStatusError
		if saveErr := s.persistence.WorkflowRepository().Save(ctx, workflow); saveErr != nil {
			s.logger.ErrorContext(ctx, "Failed to record activation error", "workflow_id", id, "error", saveErr)
		}

		return nil, err
	}

	workflow.Status = models.WorkflowStatusActive
	workflow.IsActive = true
	s.ensureWebhookID(workflow)

	if err := s.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, err
	}

	if err := s.syncSchedule(ctx, workflow); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Workflow activated", "workflow_id", id, "trigger_type", workflow.Definition.Trigger.Type)

	return workflow, nil
}

// Deactivate suspends a workflow's triggers. Idempotent.
func (s *Service) Deactivate(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow.Status = models.WorkflowStatusPaused
	workflow.IsActive = false

	if err := s.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, err
	}

	if err := s.persistence.ScheduleRepository().DeleteByWorkflowID(ctx, id); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Workflow deactivated", "workflow_id", id)

	return workflow, nil
}

// TriggerExecution creates a pending execution and hands it to the
// dispatcher. Already-queued executions are not queued twice.
func (s *Service) TriggerExecution(
	ctx context.Context,
	workflow *models.Workflow,
	triggerType models.TriggerType,
	triggerData map[string]any,
) (*models.Execution, error) {
	if s.dispatcher == nil {
		return nil, errors.New("no dispatcher configured")
	}

	// Manual runs are allowed in any status; automated triggers only
	// fire for active workflows.
	if triggerType != models.TriggerTypeManual && !workflow.IsActive {
		return nil, ErrWorkflowNotActive
	}

	execution := &models.Execution{
		ID:          uuid.NewString(),
		WorkflowID:  workflow.ID,
		Status:      models.ExecutionStatusPending,
		TriggerType: triggerType,
		TriggerData: triggerData,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.persistence.ExecutionRepository().CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	err := s.dispatcher.Enqueue(ctx, queue.Job{
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicateJob) {
		return nil, fmt.Errorf("failed to enqueue execution: %w", err)
	}

	return execution, nil
}

// TriggerWebhook resolves a webhook ID to its active workflow and starts
// an execution with the delivery payload as trigger data.
func (s *Service) TriggerWebhook(ctx context.Context, webhookID string, payload map[string]any) (*models.Execution, error) {
	workflow, err := s.persistence.WorkflowRepository().GetByWebhookID(ctx, webhookID)
	if err != nil {
		return nil, err
	}

	return s.TriggerExecution(ctx, workflow, models.TriggerTypeWebhook, payload)
}

func (s *Service) validate(workflow *models.Workflow) error {
	if err := s.validator.Struct(workflow); err != nil {
		return err
	}

	return workflow.Definition.Validate()
}

// ensureWebhookID mints the delivery identifier for webhook-triggered
// workflows. The ID is stable across updates.
func (s *Service) ensureWebhookID(workflow *models.Workflow) {
	if workflow.Definition.Trigger.Type == models.TriggerTypeWebhook && workflow.WebhookID == "" {
		workflow.WebhookID = uuid.NewString()
	}
}

// syncSchedule keeps the schedule row consistent with the workflow's
// trigger: schedule triggers get a fresh row, anything else clears it.
func (s *Service) syncSchedule(ctx context.Context, workflow *models.Workflow) error {
	schedules := s.persistence.ScheduleRepository()

	if workflow.Definition.Trigger.Type != models.TriggerTypeSchedule {
		return schedules.DeleteByWorkflowID(ctx, workflow.ID)
	}

	schedule, err := models.NewSchedule(
		uuid.NewString(),
		workflow.ID,
		workflow.Definition.Trigger.Cron,
		workflow.Definition.Trigger.Timezone,
	)
	if err != nil {
		return fmt.Errorf("invalid schedule trigger: %w", err)
	}

	return schedules.Save(ctx, schedule)
}
