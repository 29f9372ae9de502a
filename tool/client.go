package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/taskforge-ai/taskforge/trace"
	"github.com/taskforge-ai/taskforge/workflow"
)

// RetryConfig holds the client's internal retry behavior. This budget is
// per invocation and independent of the orchestrator's task re-dispatch
// budget.
type RetryConfig struct {
	// MaxAttempts caps attempts per Invoke call.
	MaxAttempts int

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier is applied on each subsequent retry.
	BackoffMultiplier float64

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the standard invocation retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Invocation identifies one tool call and its origin.
type Invocation struct {
	SessionID string
	TaskID    string
	Tool      string
	Params    map[string]any
}

// Client invokes registered tools with transient-failure retry. Permanent
// failures and exhausted budgets surface as *Error; the caller's context
// deadline bounds the whole invocation including backoff waits.
type Client struct {
	registry *Registry
	retry    RetryConfig
	sink     trace.Sink
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryConfig sets the retry policy.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithTraceSink enables per-attempt trace records.
func WithTraceSink(sink trace.Sink) ClientOption {
	return func(c *Client) {
		c.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client over the given registry.
func NewClient(registry *Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry: registry,
		retry:    DefaultRetryConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke runs the named tool, retrying transient failures with capped
// exponential backoff. It returns the tool output and a summary of the
// invocation (attempt count, trace ids) for the worker's result record.
func (c *Client) Invoke(ctx context.Context, inv Invocation) (json.RawMessage, map[string]string, error) {
	summary := map[string]string{"tool": inv.Tool}

	exec := c.registry.Get(inv.Tool)
	if exec == nil {
		err := NewError(workflow.ErrKindToolNotFound, fmt.Errorf("tool %s is not registered", inv.Tool))
		summary["attempts"] = "0"
		return nil, summary, err
	}

	var lastErr *Error
	attempts := 0

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		attempts = attempt
		summary["attempts"] = strconv.Itoa(attempts)

		started := time.Now()
		output, err := exec.Execute(ctx, inv.Params)
		elapsed := time.Since(started)
		if err == nil {
			c.traceAttempt(ctx, inv, attempt, elapsed, "success", "", summary)
			return output, summary, nil
		}

		if ctxErr := classifyContextError(ctx, err); ctxErr != nil {
			c.traceAttempt(ctx, inv, attempt, elapsed, "timeout", ctxErr.Error(), summary)
			summary["last_error"] = ctxErr.Kind
			return nil, summary, ctxErr
		}

		lastErr = Classify(err)
		summary["last_error"] = lastErr.Kind
		c.traceAttempt(ctx, inv, attempt, elapsed, "failure", lastErr.Error(), summary)

		if !lastErr.Transient {
			c.logger.Debug("permanent tool failure, not retrying",
				"tool", inv.Tool,
				"task_id", inv.TaskID,
				"kind", lastErr.Kind)
			return nil, summary, lastErr
		}

		if attempt < c.retry.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("transient tool failure, backing off",
				"tool", inv.Tool,
				"task_id", inv.TaskID,
				"attempt", attempt,
				"backoff", backoff,
				"kind", lastErr.Kind)

			select {
			case <-ctx.Done():
				timeoutErr := NewError(workflow.ErrKindTimeout,
					fmt.Errorf("invocation deadline reached during backoff: %w", ctx.Err()))
				summary["last_error"] = timeoutErr.Kind
				return nil, summary, timeoutErr
			case <-time.After(backoff):
			}
		}
	}

	return nil, summary, fmt.Errorf("tool %s failed after %d attempts: %w", inv.Tool, attempts, lastErr)
}

// classifyContextError converts a context-deadline failure into a timeout
// Error, or returns nil when the error is not context-driven.
func classifyContextError(ctx context.Context, err error) *Error {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(workflow.ErrKindTimeout, fmt.Errorf("invocation deadline reached: %w", err))
	}
	return nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retry.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retry.BackoffBase) * multiplier)
	if backoff > c.retry.MaxBackoff {
		backoff = c.retry.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// traceAttempt records one attempt. Trace failures are logged, never
// propagated.
func (c *Client) traceAttempt(ctx context.Context, inv Invocation, attempt int, elapsed time.Duration, outcome, errMsg string, summary map[string]string) {
	if c.sink == nil {
		return
	}

	md := map[string]string{
		"tool":       inv.Tool,
		"attempt":    strconv.Itoa(attempt),
		"outcome":    outcome,
		"elapsed_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
	}
	if errMsg != "" {
		md["error"] = errMsg
	}

	traceID, err := c.sink.Record(ctx, &trace.Record{
		SessionID:  inv.SessionID,
		TaskID:     inv.TaskID,
		ActionType: trace.ActionToolAttempt,
		Metadata:   md,
	})
	if err != nil {
		c.logger.Warn("failed to record tool attempt trace",
			"tool", inv.Tool,
			"task_id", inv.TaskID,
			"error", err)
		return
	}

	summary["trace_attempt_"+strconv.Itoa(attempt)] = traceID
}
