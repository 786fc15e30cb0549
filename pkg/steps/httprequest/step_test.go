package httprequest_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/steps/httprequest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext(data map[string]any) models.ExecutionContext {
	if data == nil {
		data = map[string]any{}
	}

	return models.ExecutionContext{ExecutionID: "exec-1", WorkflowID: "wf-1", Data: data}
}

func TestNewExecutor_Validation(t *testing.T) {
	_, err := httprequest.NewExecutor(map[string]any{"url": "https://example.com"})
	assert.ErrorIs(t, err, httprequest.ErrMethodRequired)

	_, err = httprequest.NewExecutor(map[string]any{"method": "GET"})
	assert.ErrorIs(t, err, httprequest.ErrURLRequired)

	executor, err := httprequest.NewExecutor(map[string]any{"method": "get", "url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, executor.Method)
}

func TestExecute_JSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temperature": 21.5, "city": "Lisbon"}`))
	}))
	defer server.Close()

	executor, err := httprequest.NewExecutor(map[string]any{"method": "GET", "url": server.URL})
	require.NoError(t, err)

	result, err := executor.Execute(context.Background(), testContext(nil), testLogger())
	require.NoError(t, err)

	response, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, response["status"])
	assert.Equal(t, "OK", response["status_text"])

	body, ok := response["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 21.5, body["temperature"])
}

func TestExecute_NonJSONResponseStaysString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain body"))
	}))
	defer server.Close()

	executor, err := httprequest.NewExecutor(map[string]any{"method": "GET", "url": server.URL})
	require.NoError(t, err)

	result, err := executor.Execute(context.Background(), testContext(nil), testLogger())
	require.NoError(t, err)

	response := result.(map[string]any)
	assert.Equal(t, "plain body", response["body"])
}

func TestExecute_TemplatedURLAndBody(t *testing.T) {
	var receivedPath string

	var receivedBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&receivedBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	executor, err := httprequest.NewExecutor(map[string]any{
		"method": "POST",
		"url":    server.URL + "/items/{{fetch.response.id}}",
		"body":   map[string]any{"label": "{{trigger.data.label}}"},
	})
	require.NoError(t, err)

	result, err := executor.Execute(context.Background(), testContext(map[string]any{
		"trigger": map[string]any{"data": map[string]any{"label": "hot"}},
		"fetch":   map[string]any{"response": map[string]any{"id": "i42"}},
	}), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "/items/i42", receivedPath)
	assert.Equal(t, "hot", receivedBody["label"])
	assert.Equal(t, http.StatusCreated, result.(map[string]any)["status"])
}

func TestExecute_BodyIgnoredForGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	executor, err := httprequest.NewExecutor(map[string]any{
		"method": "GET",
		"url":    server.URL,
		"body":   map[string]any{"ignored": true},
	})
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), testContext(nil), testLogger())
	require.NoError(t, err)
}

func TestExecute_AuthHeaders(t *testing.T) {
	tests := []struct {
		name     string
		auth     map[string]any
		expected func(t *testing.T, r *http.Request)
	}{
		{
			name: "bearer",
			auth: map[string]any{
				"type":        "bearer",
				"credentials": map[string]any{"token": "{{trigger.data.token}}"},
			},
			expected: func(t *testing.T, r *http.Request) {
				t.Helper()
				assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
			},
		},
		{
			name: "basic",
			auth: map[string]any{
				"type":        "basic",
				"credentials": map[string]any{"username": "ada", "password": "pw"},
			},
			expected: func(t *testing.T, r *http.Request) {
				t.Helper()

				username, password, ok := r.BasicAuth()
				assert.True(t, ok)
				assert.Equal(t, "ada", username)
				assert.Equal(t, "pw", password)
			},
		},
		{
			name: "api key with default header",
			auth: map[string]any{
				"type":        "api_key",
				"credentials": map[string]any{"key": "k-123"},
			},
			expected: func(t *testing.T, r *http.Request) {
				t.Helper()
				assert.Equal(t, "k-123", r.Header.Get("X-API-Key"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.expected(t, r)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			executor, err := httprequest.NewExecutor(map[string]any{
				"method": "GET",
				"url":    server.URL,
				"auth":   tt.auth,
			})
			require.NoError(t, err)

			_, err = executor.Execute(context.Background(), testContext(map[string]any{
				"trigger": map[string]any{"data": map[string]any{"token": "sekrit"}},
			}), testLogger())
			require.NoError(t, err)
		})
	}
}

func TestExecute_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	executor, err := httprequest.NewExecutor(map[string]any{"method": "GET", "url": server.URL})
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), testContext(nil), testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http request failed")
}
