// Package models defines the core domain models for declarative workflow automation.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, never executed
	WorkflowStatusActive WorkflowStatus = "active" // Triggers are live
	WorkflowStatusPaused WorkflowStatus = "paused" // Triggers suspended
	WorkflowStatusError  WorkflowStatus = "error"  // Activation failed
)

// TriggerType classifies the event that initiates an execution.
type TriggerType string

const (
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeManual   TriggerType = "manual"
)

// Workflow is the stored automation: a named, owned wrapper around a
// declarative definition. The definition is immutable during execution.
type Workflow struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"        validate:"required,min=3"`
	Description string              `json:"description"`
	Definition  *WorkflowDefinition `json:"definition"  validate:"required"`
	Status      WorkflowStatus      `json:"status"`
	IsActive    bool                `json:"is_active"`
	WebhookID   string              `json:"webhook_id,omitempty"`
	Owner       string              `json:"owner"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// WorkflowDefinition is the declarative shape the engine executes:
// one trigger plus an ordered, non-empty step sequence. Step order is
// execution order.
type WorkflowDefinition struct {
	Trigger       TriggerConfig  `json:"trigger"                  validate:"required"`
	Steps         []WorkflowStep `json:"steps"                    validate:"required,min=1"`
	ErrorHandling *ErrorHandling `json:"error_handling,omitempty"`
}

// TriggerConfig is a tagged union over the trigger types. Cron and
// Timezone are set for schedule triggers, WebhookID for webhook triggers.
type TriggerConfig struct {
	Type      TriggerType `json:"type"                 validate:"required,oneof=schedule webhook manual"`
	Cron      string      `json:"cron,omitempty"`
	Timezone  string      `json:"timezone,omitempty"`
	WebhookID string      `json:"webhook_id,omitempty"`
}

// ErrorHandling is accepted in the stored schema but not consulted by the
// engine. Failure notification is an integration point, not a behavior.
type ErrorHandling struct {
	NotifyOnError     bool   `json:"notify_on_error"`
	NotificationEmail string `json:"notification_email,omitempty"`
}
