// Package protocol defines the capability interfaces step executors satisfy.
package protocol

import (
	"context"
	"log/slog"

	"github.com/conveyorhq/conveyor/pkg/models"
)

// StepExecutor runs one step kind. Implementations resolve template
// placeholders in their configuration against the execution context at
// execute time and return a JSON-serializable result.
type StepExecutor interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error)
}

// StepFactory builds an executor from a step's raw configuration.
type StepFactory interface {
	Create(config map[string]any) (StepExecutor, error)
	Type() models.StepType
}
