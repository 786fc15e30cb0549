// Package httprequest implements the http_request step executor.
package httprequest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/template"
)

const defaultTimeoutSeconds = 30

var (
	// ErrURLRequired is returned when the step config has no url.
	ErrURLRequired = errors.New("http_request step requires a url")
	// ErrMethodRequired is returned when the step config has no method.
	ErrMethodRequired = errors.New("http_request step requires a method")
)

// Executor performs an HTTP request with optional headers, body, and an
// auth block applied as header mutations. The result carries the response
// status, headers, and a body parsed as JSON when the response says so.
type Executor struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Auth    *AuthConfig
	Timeout time.Duration

	client *http.Client
}

// AuthConfig is the optional auth block: bearer, basic, or api_key.
type AuthConfig struct {
	Type        string
	Credentials map[string]string
}

// NewExecutor creates an http_request executor from raw step configuration.
func NewExecutor(config map[string]any) (*Executor, error) {
	method, _ := config["method"].(string)
	if method == "" {
		return nil, ErrMethodRequired
	}

	url, _ := config["url"].(string)
	if url == "" {
		return nil, ErrURLRequired
	}

	headers := make(map[string]string)

	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersConfig {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	var auth *AuthConfig

	if authConfig, ok := config["auth"].(map[string]any); ok {
		auth = parseAuthConfig(authConfig)
	}

	return &Executor{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		Body:    config["body"],
		Auth:    auth,
		Timeout: defaultTimeoutSeconds * time.Second,
		client:  &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
	}, nil
}

func parseAuthConfig(authConfig map[string]any) *AuthConfig {
	authType, _ := authConfig["type"].(string)
	credentials := make(map[string]string)

	if credsConfig, ok := authConfig["credentials"].(map[string]any); ok {
		for k, v := range credsConfig {
			if strVal, ok := v.(string); ok {
				credentials[k] = strVal
			}
		}
	}

	return &AuthConfig{Type: authType, Credentials: credentials}
}

// Execute resolves the configuration against the execution context, issues
// the request, and returns {status, status_text, headers, body}. Network
// failures propagate as step failures.
func (e *Executor) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "http_request_step")

	req, err := e.buildRequest(ctx, executionCtx)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Issuing HTTP request", "method", req.Method, "url", req.URL.String())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	return e.processResponse(ctx, resp, logger)
}

func (e *Executor) buildRequest(ctx context.Context, executionCtx models.ExecutionContext) (*http.Request, error) {
	url := template.Resolve(e.URL, executionCtx.Data)
	method := e.Method

	bodyReader, err := e.buildRequestBody(executionCtx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	// Default content type, overridable by configured headers.
	req.Header.Set("Content-Type", "application/json")

	for key, value := range e.Headers {
		req.Header.Set(key, template.Resolve(value, executionCtx.Data))
	}

	e.applyAuth(req, executionCtx)

	return req, nil
}

// buildRequestBody attaches a body only for POST, PUT, and PATCH.
func (e *Executor) buildRequestBody(executionCtx models.ExecutionContext) (io.Reader, error) {
	if e.Body == nil {
		return nil, nil
	}

	switch e.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, nil
	}

	resolved := template.ResolveConfig(e.Body, executionCtx.Data)

	if str, ok := resolved.(string); ok {
		return strings.NewReader(str), nil
	}

	serialized, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	return strings.NewReader(string(serialized)), nil
}

func (e *Executor) applyAuth(req *http.Request, executionCtx models.ExecutionContext) {
	if e.Auth == nil {
		return
	}

	creds := make(map[string]string, len(e.Auth.Credentials))
	for k, v := range e.Auth.Credentials {
		creds[k] = template.Resolve(v, executionCtx.Data)
	}

	switch e.Auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+creds["token"])
	case "basic":
		encoded := base64.StdEncoding.EncodeToString([]byte(creds["username"] + ":" + creds["password"]))
		req.Header.Set("Authorization", "Basic "+encoded)
	case "api_key":
		headerName := creds["headerName"]
		if headerName == "" {
			headerName = "X-API-Key"
		}

		req.Header.Set(headerName, creds["key"])
	}
}

func (e *Executor) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			body = string(bodyBytes)
		}
	} else {
		body = string(bodyBytes)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	logger.InfoContext(ctx, "HTTP request completed", "status", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status":      resp.StatusCode,
		"status_text": http.StatusText(resp.StatusCode),
		"headers":     headers,
		"body":        body,
	}, nil
}
