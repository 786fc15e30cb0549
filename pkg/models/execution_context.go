package models

// ExecutionContext is the accumulating mapping visible to template
// substitution during one execution. It starts with the trigger entry and
// gains {<stepID>: {response: <result>}} after each successful step. It is
// never persisted as an entity; snapshots land in StepExecution.InputData.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string
	Data        map[string]any
}

// NewExecutionContext seeds a fresh context with the trigger entry.
func NewExecutionContext(executionID, workflowID string, triggerType TriggerType, triggerData map[string]any) *ExecutionContext {
	if triggerData == nil {
		triggerData = map[string]any{}
	}

	return &ExecutionContext{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Data: map[string]any{
			"trigger": map[string]any{
				"type": string(triggerType),
				"data": triggerData,
			},
		},
	}
}

// MergeStepResult records a successful step's output for later steps.
func (c *ExecutionContext) MergeStepResult(stepID string, result any) {
	c.Data[stepID] = map[string]any{"response": result}
}

// Snapshot returns a shallow copy of the context data, taken just before a
// step runs so StepExecution.InputData reflects what the step could see.
func (c *ExecutionContext) Snapshot() map[string]any {
	snapshot := make(map[string]any, len(c.Data))
	for k, v := range c.Data {
		snapshot[k] = v
	}

	return snapshot
}
