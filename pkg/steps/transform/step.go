// Package transform implements the transform_data step executor: the
// template mechanism repurposed as a minimal transform, not an expression
// evaluator.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/protocol"
	"github.com/conveyorhq/conveyor/pkg/template"
)

// ErrExpressionRequired is returned when the step config has no expression.
var ErrExpressionRequired = errors.New("transform_data step requires an expression")

// Executor resolves an expression through the template resolver and parses
// the result as JSON, falling back to the raw resolved string.
type Executor struct {
	Expression string
}

func NewExecutor(config map[string]any) (*Executor, error) {
	expression, _ := config["expression"].(string)
	if expression == "" {
		return nil, ErrExpressionRequired
	}

	return &Executor{Expression: expression}, nil
}

func (e *Executor) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "transform_step")

	resolved := template.Resolve(e.Expression, executionCtx.Data)

	var parsed any
	if err := json.Unmarshal([]byte(resolved), &parsed); err != nil {
		// Unparseable output is not an error: return the resolved text.
		logger.DebugContext(ctx, "Transform output is not JSON, returning as string")

		return resolved, nil
	}

	return parsed, nil
}

// Factory creates transform_data executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(config map[string]any) (protocol.StepExecutor, error) {
	return NewExecutor(config)
}

func (f *Factory) Type() models.StepType {
	return models.StepTypeTransformData
}
