package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/taskforge-ai/taskforge/workflow"
)

// maxToolResponseSize limits tool response bodies.
const maxToolResponseSize = 10 * 1024 * 1024 // 10MB

// HTTPExecutor invokes a tool exposed by a remote tool server as
// POST {base}/tools/{name} with a JSON parameter body.
type HTTPExecutor struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// HTTPExecutorOption configures an HTTPExecutor.
type HTTPExecutorOption func(*HTTPExecutor)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPExecutorOption {
	return func(e *HTTPExecutor) {
		e.httpClient = c
	}
}

// WithAPIKey sets bearer authentication for the tool server.
func WithAPIKey(key string) HTTPExecutorOption {
	return func(e *HTTPExecutor) {
		e.apiKey = key
	}
}

// NewHTTPExecutor creates an executor for one remote tool. The executor
// carries no timeout of its own; the caller's context bounds each attempt.
func NewHTTPExecutor(name, baseURL string, opts ...HTTPExecutorOption) *HTTPExecutor {
	e := &HTTPExecutor{
		name:       name,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the tool identifier.
func (e *HTTPExecutor) Name() string {
	return e.name
}

// Execute performs one invocation attempt against the remote server.
func (e *HTTPExecutor) Execute(ctx context.Context, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{"parameters": params})
	if err != nil {
		return nil, NewError(workflow.ErrKindValidation, fmt.Errorf("marshal parameters: %w", err))
	}

	url := fmt.Sprintf("%s/tools/%s", e.baseURL, e.name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(workflow.ErrKindInternal, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		// Network failures look like an unavailable server; context errors
		// are reclassified as timeouts by the client.
		return nil, NewError(workflow.ErrKindToolUnavailable, fmt.Errorf("tool request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseSize))
	if err != nil {
		return nil, NewError(workflow.ErrKindToolUnavailable, fmt.Errorf("read tool response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(resp.StatusCode, respBody)
	}

	return json.RawMessage(respBody), nil
}

// classifyHTTPStatus maps a tool server status code to an error kind.
func classifyHTTPStatus(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("tool server error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusNotFound:
		return NewError(workflow.ErrKindToolNotFound, err)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return NewError(workflow.ErrKindAuthentication, err)
	case statusCode == http.StatusTooManyRequests:
		return NewError(workflow.ErrKindRateLimited, err)
	case statusCode == http.StatusBadRequest, statusCode == http.StatusUnprocessableEntity:
		return NewError(workflow.ErrKindValidation, err)
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusGatewayTimeout:
		return NewError(workflow.ErrKindTimeout, err)
	case statusCode >= 500:
		return NewError(workflow.ErrKindToolUnavailable, err)
	default:
		return NewError(workflow.ErrKindInternal, err)
	}
}
