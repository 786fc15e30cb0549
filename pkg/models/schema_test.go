package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conveyorhq/conveyor/pkg/models"
)

func validDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Trigger: models.TriggerConfig{Type: models.TriggerTypeManual},
		Steps: []models.WorkflowStep{
			{
				ID:   "fetch",
				Type: models.StepTypeHTTPRequest,
				Config: map[string]any{
					"method": "GET",
					"url":    "https://api.example.com/data",
				},
			},
			{
				ID:   "notify",
				Type: models.StepTypeSendEmail,
				Config: map[string]any{
					"to":      "ops@example.com",
					"subject": "Data fetched",
					"body":    "Status: {{fetch.response.status}}",
				},
			},
		},
	}
}

func TestValidate_ValidDefinition(t *testing.T) {
	assert.NoError(t, validDefinition().Validate())
}

func TestValidate_Trigger(t *testing.T) {
	def := validDefinition()
	def.Trigger = models.TriggerConfig{Type: models.TriggerTypeSchedule}
	assert.ErrorIs(t, def.Validate(), models.ErrInvalidTrigger)

	def.Trigger = models.TriggerConfig{Type: models.TriggerTypeSchedule, Cron: "0 2 * * *"}
	assert.NoError(t, def.Validate())

	def.Trigger = models.TriggerConfig{Type: "carrier-pigeon"}
	assert.ErrorIs(t, def.Validate(), models.ErrInvalidTrigger)
}

func TestValidate_EmptySteps(t *testing.T) {
	def := validDefinition()
	def.Steps = nil
	assert.ErrorIs(t, def.Validate(), models.ErrEmptySteps)
}

func TestValidate_DuplicateStepID(t *testing.T) {
	def := validDefinition()
	def.Steps[1].ID = "fetch"
	assert.ErrorIs(t, def.Validate(), models.ErrDuplicateStepID)
}

func TestValidate_EmptyStepID(t *testing.T) {
	def := validDefinition()
	def.Steps[0].ID = ""
	assert.ErrorIs(t, def.Validate(), models.ErrInvalidStepShape)
}

func TestValidate_UnknownStepType(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Type = "teleport"
	assert.ErrorIs(t, def.Validate(), models.ErrUnknownStepType)
}

func TestValidate_StepConfigSchemas(t *testing.T) {
	tests := []struct {
		name  string
		step  models.WorkflowStep
		valid bool
	}{
		{
			name: "http_request missing url",
			step: models.WorkflowStep{
				ID:     "s",
				Type:   models.StepTypeHTTPRequest,
				Config: map[string]any{"method": "GET"},
			},
		},
		{
			name: "http_request bad method",
			step: models.WorkflowStep{
				ID:     "s",
				Type:   models.StepTypeHTTPRequest,
				Config: map[string]any{"method": "FETCH", "url": "https://x"},
			},
		},
		{
			name: "send_email missing body",
			step: models.WorkflowStep{
				ID:     "s",
				Type:   models.StepTypeSendEmail,
				Config: map[string]any{"to": "a@example.com", "subject": "hi"},
			},
		},
		{
			name: "send_email recipient list",
			step: models.WorkflowStep{
				ID:   "s",
				Type: models.StepTypeSendEmail,
				Config: map[string]any{
					"to":      []any{"a@example.com", "b@example.com"},
					"subject": "hi",
					"body":    "text",
				},
			},
			valid: true,
		},
		{
			name: "transform_data empty expression",
			step: models.WorkflowStep{
				ID:     "s",
				Type:   models.StepTypeTransformData,
				Config: map[string]any{"expression": ""},
			},
		},
		{
			name: "delay zero duration",
			step: models.WorkflowStep{
				ID:     "s",
				Type:   models.StepTypeDelay,
				Config: map[string]any{"duration": 0.0, "unit": "seconds"},
			},
		},
		{
			name: "delay valid",
			step: models.WorkflowStep{
				ID:     "s",
				Type:   models.StepTypeDelay,
				Config: map[string]any{"duration": 30.0, "unit": "seconds"},
			},
			valid: true,
		},
		{
			name: "conditional valid shape despite having no executor",
			step: models.WorkflowStep{
				ID:   "s",
				Type: models.StepTypeConditional,
				Config: map[string]any{
					"condition":   "{{fetch.response.status}}",
					"true_branch": []any{"notify"},
				},
			},
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &models.WorkflowDefinition{
				Trigger: models.TriggerConfig{Type: models.TriggerTypeManual},
				Steps:   []models.WorkflowStep{tt.step},
			}

			err := def.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrInvalidStepShape)
			}
		})
	}
}
