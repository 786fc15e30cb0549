// Package registry maps step types to executor factories.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/protocol"
)

type Registry struct {
	logger    *slog.Logger
	factories map[models.StepType]protocol.StepFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[models.StepType]protocol.StepFactory),
	}
}

func (r *Registry) RegisterStep(factory protocol.StepFactory) {
	r.factories[factory.Type()] = factory
}

// CreateExecutor builds an executor for a step type. A type with no
// registered factory fails fast; the engine treats that as a step failure
// that aborts the run.
func (r *Registry) CreateExecutor(stepType models.StepType, config map[string]any) (protocol.StepExecutor, error) {
	factory, ok := r.factories[stepType]
	if !ok {
		return nil, fmt.Errorf("unknown step type: %s", stepType)
	}

	return factory.Create(config)
}

// StepTypes returns the registered step types.
func (r *Registry) StepTypes() []models.StepType {
	types := make([]models.StepType, 0, len(r.factories))
	for stepType := range r.factories {
		types = append(types, stepType)
	}

	return types
}

// HealthCheck reports whether the registry has any executors registered.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.factories) == 0 {
		return "no step executors registered", false
	}

	return fmt.Sprintf("%d step executors registered", len(r.factories)), true
}
