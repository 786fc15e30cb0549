package delay_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/steps/delay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewExecutor(t *testing.T) {
	tests := []struct {
		name     string
		config   map[string]any
		expected time.Duration
		err      error
	}{
		{
			name:     "seconds",
			config:   map[string]any{"duration": 30.0, "unit": "seconds"},
			expected: 30 * time.Second,
		},
		{
			name:     "minutes",
			config:   map[string]any{"duration": 2.0, "unit": "minutes"},
			expected: 2 * time.Minute,
		},
		{
			name:     "fractional seconds",
			config:   map[string]any{"duration": 1.5, "unit": "seconds"},
			expected: 1500 * time.Millisecond,
		},
		{
			name:     "hours capped at five minutes",
			config:   map[string]any{"duration": 2.0, "unit": "hours"},
			expected: delay.MaxDelay,
		},
		{
			name:     "days capped at five minutes",
			config:   map[string]any{"duration": 1.0, "unit": "days"},
			expected: delay.MaxDelay,
		},
		{
			name:   "missing duration",
			config: map[string]any{"unit": "seconds"},
			err:    delay.ErrInvalidDuration,
		},
		{
			name:   "zero duration",
			config: map[string]any{"duration": 0.0, "unit": "seconds"},
			err:    delay.ErrInvalidDuration,
		},
		{
			name:   "unknown unit",
			config: map[string]any{"duration": 1.0, "unit": "fortnights"},
			err:    delay.ErrInvalidUnit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor, err := delay.NewExecutor(tt.config)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, executor.Duration)
		})
	}
}

func TestExecute_ReturnsDelayedMs(t *testing.T) {
	executor, err := delay.NewExecutor(map[string]any{"duration": 0.01, "unit": "seconds"})
	require.NoError(t, err)

	result, err := executor.Execute(context.Background(), models.ExecutionContext{}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"delayed_ms": int64(10)}, result)
}

func TestExecute_CancelledContext(t *testing.T) {
	executor, err := delay.NewExecutor(map[string]any{"duration": 30.0, "unit": "seconds"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	_, err = executor.Execute(ctx, models.ExecutionContext{}, testLogger())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(started), time.Second)
}
