package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/persistence/file"
	"github.com/conveyorhq/conveyor/pkg/queue"
	"github.com/conveyorhq/conveyor/pkg/queue/memoryqueue"
	"github.com/conveyorhq/conveyor/pkg/registry"
	"github.com/conveyorhq/conveyor/pkg/steps/httprequest"
	"github.com/conveyorhq/conveyor/pkg/steps/sendemail"
	"github.com/conveyorhq/conveyor/pkg/steps/transform"
	"github.com/conveyorhq/conveyor/pkg/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu   sync.Mutex
	sent []*sendemail.Message
}

func (s *recordingSender) Send(_ context.Context, msg *sendemail.Message) (*sendemail.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, msg)

	return &sendemail.Result{MessageID: "msg-1", Success: true}, nil
}

func (s *recordingSender) messages() []*sendemail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*sendemail.Message(nil), s.sent...)
}

// Covers the full trigger-to-email path: a queued execution fetches JSON
// over HTTP, reshapes it, and mails the result, with every context value
// flowing through template substitution.
func TestPipeline_FetchTransformEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temperature": 21.5, "summary": "sunny"}`))
	}))
	defer server.Close()

	sender := &recordingSender{}

	reg := registry.NewRegistry(testLogger())
	reg.RegisterStep(httprequest.NewFactory())
	reg.RegisterStep(transform.NewFactory())
	reg.RegisterStep(sendemail.NewFactory(sender))

	persist := file.NewPersistence(t.TempDir())
	dispatcher := memoryqueue.NewDispatcher(queue.Config{Concurrency: 1}, testLogger())
	service := workflow.NewService(persist, dispatcher, testLogger())
	engine := workflow.NewEngine(persist, reg, nil, testLogger(), "pipeline-test")

	ctx := context.Background()

	created, err := service.Create(ctx, &models.Workflow{
		Name: "Weather Report",
		Definition: &models.WorkflowDefinition{
			Trigger: models.TriggerConfig{Type: models.TriggerTypeManual},
			Steps: []models.WorkflowStep{
				{
					ID:   "fetch",
					Type: models.StepTypeHTTPRequest,
					Config: map[string]any{
						"method": "GET",
						"url":    server.URL,
					},
				},
				{
					ID:   "shape",
					Type: models.StepTypeTransformData,
					Config: map[string]any{
						"expression": `{"line": "{{fetch.response.body.summary}} at {{fetch.response.body.temperature}}C"}`,
					},
				},
				{
					ID:   "notify",
					Type: models.StepTypeSendEmail,
					Config: map[string]any{
						"to":      "{{trigger.data.email}}",
						"subject": "{{fetch.response.status}}",
						"body":    "{{shape.response.line}}",
					},
				},
			},
		},
	})
	require.NoError(t, err)

	require.NoError(t, dispatcher.Start(ctx, func(ctx context.Context, job queue.Job) error {
		return engine.Execute(ctx, job.ExecutionID)
	}))

	defer func() {
		require.NoError(t, dispatcher.Stop(context.Background()))
	}()

	execution, err := service.TriggerExecution(ctx, created, models.TriggerTypeManual, map[string]any{
		"email": "ada@example.com",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := persist.ExecutionRepository().GetExecutionByID(ctx, execution.ID)

		return err == nil && stored.Status == models.ExecutionStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	messages := sender.messages()
	require.Len(t, messages, 1)
	assert.Equal(t, []string{"ada@example.com"}, messages[0].To)
	assert.Equal(t, "200", messages[0].Subject)
	assert.Equal(t, "sunny at 21.5C", messages[0].Body)

	steps, err := persist.ExecutionRepository().ListStepExecutionsByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	for _, step := range steps {
		assert.Equal(t, models.ExecutionStatusCompleted, step.Status)
	}
}
