package models

// StepType identifies the kind of work a step performs.
type StepType string

const (
	StepTypeHTTPRequest   StepType = "http_request"
	StepTypeSendEmail     StepType = "send_email"
	StepTypeTransformData StepType = "transform_data"
	StepTypeDelay         StepType = "delay"
	// StepTypeConditional is valid in stored definitions but has no
	// registered executor; dispatching it aborts the run.
	StepTypeConditional StepType = "conditional"
)

// WorkflowStep is one unit of work within a definition. DependsOn and
// RetryConfig are accepted from authors but not evaluated: steps run in
// array order, and retries happen at the job level, not per step.
type WorkflowStep struct {
	ID          string         `json:"id"            validate:"required"`
	Name        string         `json:"name,omitempty"`
	Type        StepType       `json:"type"          validate:"required"`
	Config      map[string]any `json:"config"        validate:"required"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	RetryConfig *RetryConfig   `json:"retry_config,omitempty"`
}

// RetryConfig is part of the step wire contract.
type RetryConfig struct {
	MaxRetries   int `json:"max_retries"`
	RetryDelayMs int `json:"retry_delay_ms"`
}
