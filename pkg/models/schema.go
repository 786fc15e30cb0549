package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Step config JSON schemas, one per step type. These are the wire contract
// a saved definition must satisfy; a config that fails here never reaches
// the engine.
var stepConfigSchemas = map[StepType]string{
	StepTypeHTTPRequest: `{
		"type": "object",
		"properties": {
			"method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
			"url": {"type": "string", "minLength": 1},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}},
			"body": {},
			"auth": {
				"type": "object",
				"properties": {
					"type": {"type": "string", "enum": ["basic", "bearer", "api_key"]},
					"credentials": {"type": "object", "additionalProperties": {"type": "string"}}
				},
				"required": ["type", "credentials"]
			}
		},
		"required": ["method", "url"]
	}`,
	StepTypeSendEmail: `{
		"type": "object",
		"properties": {
			"to": {"anyOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]},
			"cc": {"anyOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]},
			"bcc": {"anyOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]},
			"subject": {"type": "string"},
			"body": {"type": "string"},
			"is_html": {"type": "boolean"}
		},
		"required": ["to", "subject", "body"]
	}`,
	StepTypeTransformData: `{
		"type": "object",
		"properties": {
			"expression": {"type": "string", "minLength": 1},
			"output_key": {"type": "string"}
		},
		"required": ["expression"]
	}`,
	StepTypeDelay: `{
		"type": "object",
		"properties": {
			"duration": {"type": "number", "exclusiveMinimum": 0},
			"unit": {"type": "string", "enum": ["seconds", "minutes", "hours", "days"]}
		},
		"required": ["duration", "unit"]
	}`,
	StepTypeConditional: `{
		"type": "object",
		"properties": {
			"condition": {"type": "string"},
			"true_branch": {"type": "array", "items": {"type": "string"}},
			"false_branch": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["condition", "true_branch"]
	}`,
}

var (
	ErrEmptySteps       = errors.New("workflow definition must have at least one step")
	ErrDuplicateStepID  = errors.New("step ids must be unique within a definition")
	ErrUnknownStepType  = errors.New("unknown step type")
	ErrInvalidTrigger   = errors.New("invalid trigger configuration")
	ErrInvalidStepShape = errors.New("step config does not match its type's schema")
)

// Validate checks a definition against the wire contract: trigger union
// shape, non-empty steps, unique step ids, and each step config against the
// schema for its type.
func (d *WorkflowDefinition) Validate() error {
	if err := d.Trigger.validate(); err != nil {
		return err
	}

	if len(d.Steps) == 0 {
		return ErrEmptySteps
	}

	seen := make(map[string]bool, len(d.Steps))

	for _, step := range d.Steps {
		if step.ID == "" {
			return fmt.Errorf("%w: step with empty id", ErrInvalidStepShape)
		}

		if seen[step.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateStepID, step.ID)
		}

		seen[step.ID] = true

		if err := validateStepConfig(step); err != nil {
			return err
		}
	}

	return nil
}

func (t *TriggerConfig) validate() error {
	switch t.Type {
	case TriggerTypeSchedule:
		if t.Cron == "" {
			return fmt.Errorf("%w: schedule trigger requires a cron expression", ErrInvalidTrigger)
		}
	case TriggerTypeWebhook, TriggerTypeManual:
	default:
		return fmt.Errorf("%w: unsupported trigger type %q", ErrInvalidTrigger, t.Type)
	}

	return nil
}

func validateStepConfig(step WorkflowStep) error {
	schemaJSON, ok := stepConfigSchemas[step.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStepType, step.Type)
	}

	configJSON, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config for step %s: %w", step.ID, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(configJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config for step %s: %w", step.ID, err)
	}

	if !result.Valid() {
		detail := ""
		for _, desc := range result.Errors() {
			detail += desc.String() + "; "
		}

		return fmt.Errorf("%w: step %s: %s", ErrInvalidStepShape, step.ID, detail)
	}

	return nil
}
