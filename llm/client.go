// Package llm provides a provider-agnostic LLM client with retry and
// fallback support, plus helpers for coaxing structured JSON out of
// free-form completions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Endpoint describes one provider endpoint in the fallback chain.
type Endpoint struct {
	// Provider names a registered provider ("anthropic", "openai").
	Provider string `json:"provider" yaml:"provider"`

	// BaseURL overrides the provider's default API base. Empty uses the default.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the provider-specific model identifier.
	Model string `json:"model" yaml:"model"`

	// APIKey authenticates requests. Empty falls back to the provider's
	// environment variable.
	APIKey string `json:"-" yaml:"api_key,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// Request defines an LLM completion request.
type Request struct {
	// Messages is the chat history to send.
	Messages []Message

	// Temperature controls randomness. nil uses the endpoint default.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the endpoint default.
	MaxTokens int
}

// TokenUsage represents token consumption for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the LLM completion result.
type Response struct {
	// RequestID uniquely identifies this call for trace correlation.
	RequestID string

	// Content is the generated text.
	Content string

	// Model is the model that actually served the request.
	Model string

	// Usage contains token consumption metrics when the provider reports them.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// Client sends completion requests through a chain of endpoints: the
// primary first with per-endpoint retries, then each fallback.
type Client struct {
	chain       []Endpoint
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client over the given endpoint chain. The first
// endpoint is the primary; the rest are tried in order when it fails.
func NewClient(chain []Endpoint, opts ...ClientOption) (*Client, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	for _, ep := range chain {
		if GetProvider(ep.Provider) == nil {
			return nil, fmt.Errorf("unknown provider %q (registered: %s)",
				ep.Provider, strings.Join(ListProviders(), ", "))
		}
		if ep.Model == "" {
			return nil, fmt.Errorf("endpoint for provider %s: model is required", ep.Provider)
		}
	}

	c := &Client{
		chain:       chain,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for slow completions
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Complete sends a completion request, retrying transient failures on each
// endpoint and falling back down the chain. A fatal error on any endpoint
// aborts the whole call.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	requestID := uuid.New().String()

	var lastErr error
	for _, ep := range c.chain {
		resp, err := c.tryEndpointWithRetry(ctx, ep, req)
		if err == nil {
			resp.RequestID = requestID
			return resp, nil
		}

		lastErr = err

		if IsFatal(err) {
			c.logger.Warn("fatal LLM error, not trying fallbacks",
				"provider", ep.Provider,
				"model", ep.Model,
				"error", err)
			return nil, err
		}

		c.logger.Warn("endpoint failed, trying fallback",
			"provider", ep.Provider,
			"model", ep.Model,
			"error", err)
	}

	return nil, fmt.Errorf("all endpoints failed: %w", lastErr)
}

// CompleteJSON runs a completion and unmarshals the extracted JSON object
// into out. If the first response is not parseable, it makes one corrective
// attempt that feeds the parse error back to the model.
func (c *Client) CompleteJSON(ctx context.Context, req Request, out any) (*Response, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	parseErr := decodeJSON(resp.Content, out)
	if parseErr == nil {
		return resp, nil
	}

	c.logger.Debug("structured response unparseable, requesting correction",
		"error", parseErr)

	corrective := req
	corrective.Messages = append(append([]Message{}, req.Messages...),
		Message{Role: "assistant", Content: resp.Content},
		Message{Role: "user", Content: fmt.Sprintf(
			"Your previous response could not be parsed as JSON: %v. "+
				"Respond again with only a valid JSON object and no surrounding text.", parseErr)},
	)

	resp, err = c.Complete(ctx, corrective)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(resp.Content, out); err != nil {
		return nil, NewFatalError(fmt.Errorf("unparseable structured response after correction: %w", err))
	}
	return resp, nil
}

func decodeJSON(content string, out any) error {
	raw := ExtractJSON(content)
	if raw == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("unmarshal response JSON: %w", err)
	}
	return nil
}

// tryEndpointWithRetry attempts a request against one endpoint, retrying
// transient failures up to MaxAttempts with backoff.
func (c *Client) tryEndpointWithRetry(ctx context.Context, ep Endpoint, req Request) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, ep, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, lastErr
}

// calculateBackoff computes exponential backoff with jitter. Jitter prevents
// thundering herd when multiple clients retry simultaneously.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// +/- 25% to desynchronize retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP request to the endpoint.
func (c *Client) doRequest(ctx context.Context, ep Endpoint, req Request) (*Response, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	url := provider.BuildURL(ep.BaseURL)

	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("sending LLM request",
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq, ep.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	return provider.ParseResponse(respBody, ep.Model)
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}
