// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/conveyorhq/conveyor/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name        string                     `json:"name"        validate:"required,min=3"`
	Description string                     `json:"description"`
	Definition  *models.WorkflowDefinition `json:"definition"  validate:"required"`
	Owner       string                     `json:"owner"`
}

// UpdateWorkflowRequest represents the request body for updating a workflow.
// All fields are optional to support partial updates.
type UpdateWorkflowRequest struct {
	Name        *string                    `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string                    `json:"description,omitempty"`
	Definition  *models.WorkflowDefinition `json:"definition,omitempty"`
}

// ExecuteWorkflowRequest carries optional trigger data for a manual run.
type ExecuteWorkflowRequest struct {
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

// ExecutionResponse pairs an execution with its step rows.
type ExecutionResponse struct {
	Execution      *models.Execution       `json:"execution"`
	StepExecutions []*models.StepExecution `json:"step_executions"`
}
