// Package delay implements the delay step executor.
package delay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/protocol"
)

// MaxDelay caps any requested delay so a runaway schedule cannot occupy a
// worker slot indefinitely.
const MaxDelay = 5 * time.Minute

var unitMultipliers = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

var (
	// ErrInvalidDuration is returned when duration is missing or not positive.
	ErrInvalidDuration = errors.New("delay step requires a positive duration")
	// ErrInvalidUnit is returned for units outside seconds/minutes/hours/days.
	ErrInvalidUnit = errors.New("delay step unit must be seconds, minutes, hours, or days")
)

// Executor suspends the task running one execution. Other executions on
// the same worker are unaffected.
type Executor struct {
	Duration time.Duration
}

func NewExecutor(config map[string]any) (*Executor, error) {
	duration, ok := asFloat(config["duration"])
	if !ok || duration <= 0 {
		return nil, ErrInvalidDuration
	}

	unit, _ := config["unit"].(string)

	multiplier, ok := unitMultipliers[unit]
	if !ok {
		return nil, ErrInvalidUnit
	}

	requested := time.Duration(duration * float64(multiplier))
	if requested > MaxDelay {
		requested = MaxDelay
	}

	return &Executor{Duration: requested}, nil
}

func (e *Executor) Execute(ctx context.Context, _ models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "delay_step")
	logger.InfoContext(ctx, "Delaying execution", "duration", e.Duration)

	timer := time.NewTimer(e.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("delay interrupted: %w", ctx.Err())
	case <-timer.C:
	}

	return map[string]any{"delayed_ms": e.Duration.Milliseconds()}, nil
}

// asFloat coerces the numeric types a duration arrives as: float64 from
// JSON, int from Go-constructed configs.
func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Factory creates delay executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(config map[string]any) (protocol.StepExecutor, error) {
	return NewExecutor(config)
}

func (f *Factory) Type() models.StepType {
	return models.StepTypeDelay
}
