package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge-ai/taskforge/trace"
	"github.com/taskforge-ai/taskforge/workflow"
)

// scriptedExecutor returns canned responses per attempt.
type scriptedExecutor struct {
	name     string
	script   []error
	output   json.RawMessage
	attempts int
}

func (e *scriptedExecutor) Name() string { return e.name }

func (e *scriptedExecutor) Execute(_ context.Context, _ map[string]any) (json.RawMessage, error) {
	idx := e.attempts
	e.attempts++
	if idx < len(e.script) && e.script[idx] != nil {
		return nil, e.script[idx]
	}
	return e.output, nil
}

func fastClientRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, exec Executor) (*Client, *trace.MemorySink) {
	t.Helper()

	registry := NewRegistry()
	require.NoError(t, registry.Register(exec))

	sink := trace.NewMemorySink()
	client := NewClient(registry,
		WithRetryConfig(fastClientRetry()),
		WithTraceSink(sink))
	return client, sink
}

func TestInvokeSuccess(t *testing.T) {
	exec := &scriptedExecutor{name: "web_search", output: json.RawMessage(`{"hits": 5}`)}
	client, sink := newTestClient(t, exec)

	output, summary, err := client.Invoke(context.Background(), Invocation{
		SessionID: "sess-1",
		TaskID:    "t1",
		Tool:      "web_search",
		Params:    map[string]any{"query": "golang"},
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"hits": 5}`, string(output))
	assert.Equal(t, "1", summary["attempts"])

	records := sink.ByAction(trace.ActionToolAttempt)
	require.Len(t, records, 1)
	assert.Equal(t, "web_search", records[0].Metadata["tool"])
	assert.Equal(t, "success", records[0].Metadata["outcome"])
	assert.NotEmpty(t, records[0].Metadata["elapsed_ms"])
}

func TestInvokeTransientFailureRecovers(t *testing.T) {
	exec := &scriptedExecutor{
		name: "web_search",
		script: []error{
			NewError(workflow.ErrKindToolUnavailable, fmt.Errorf("503")),
			NewError(workflow.ErrKindToolUnavailable, fmt.Errorf("503")),
			nil,
		},
		output: json.RawMessage(`{"hits": 1}`),
	}
	client, sink := newTestClient(t, exec)

	output, summary, err := client.Invoke(context.Background(), Invocation{Tool: "web_search"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"hits": 1}`, string(output))
	assert.Equal(t, "3", summary["attempts"])
	assert.Equal(t, 3, exec.attempts)

	// Every attempt traced, including the failed ones, each carrying its
	// own elapsed time.
	records := sink.ByAction(trace.ActionToolAttempt)
	require.Len(t, records, 3)
	assert.Equal(t, "failure", records[0].Metadata["outcome"])
	assert.Equal(t, "success", records[2].Metadata["outcome"])
	for _, rec := range records {
		assert.NotEmpty(t, rec.Metadata["elapsed_ms"])
	}
}

func TestInvokeTransientBudgetExhausted(t *testing.T) {
	exec := &scriptedExecutor{
		name: "web_search",
		script: []error{
			NewError(workflow.ErrKindRateLimited, fmt.Errorf("429")),
			NewError(workflow.ErrKindRateLimited, fmt.Errorf("429")),
			NewError(workflow.ErrKindRateLimited, fmt.Errorf("429")),
		},
	}
	client, _ := newTestClient(t, exec)

	_, summary, err := client.Invoke(context.Background(), Invocation{Tool: "web_search"})

	require.Error(t, err)
	assert.Equal(t, 3, exec.attempts)
	assert.Equal(t, workflow.ErrKindRateLimited, Classify(err).Kind)
	assert.Equal(t, workflow.ErrKindRateLimited, summary["last_error"])
}

func TestInvokePermanentFailureNoRetry(t *testing.T) {
	exec := &scriptedExecutor{
		name:   "web_search",
		script: []error{NewError(workflow.ErrKindAuthentication, fmt.Errorf("401"))},
	}
	client, _ := newTestClient(t, exec)

	_, _, err := client.Invoke(context.Background(), Invocation{Tool: "web_search"})

	require.Error(t, err)
	assert.Equal(t, 1, exec.attempts)

	classified := Classify(err)
	assert.Equal(t, workflow.ErrKindAuthentication, classified.Kind)
	assert.False(t, classified.Transient)
}

func TestInvokeUnknownTool(t *testing.T) {
	client, _ := newTestClient(t, &scriptedExecutor{name: "web_search"})

	_, _, err := client.Invoke(context.Background(), Invocation{Tool: "no_such_tool"})

	require.Error(t, err)
	classified := Classify(err)
	assert.Equal(t, workflow.ErrKindToolNotFound, classified.Kind)
	assert.False(t, classified.Transient)
}

func TestInvokeDeadlineDuringBackoff(t *testing.T) {
	exec := &scriptedExecutor{
		name: "web_search",
		script: []error{
			NewError(workflow.ErrKindToolUnavailable, fmt.Errorf("503")),
			NewError(workflow.ErrKindToolUnavailable, fmt.Errorf("503")),
		},
	}

	registry := NewRegistry()
	require.NoError(t, registry.Register(exec))
	client := NewClient(registry, WithRetryConfig(RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        time.Second,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := client.Invoke(ctx, Invocation{Tool: "web_search"})

	require.Error(t, err)
	assert.Equal(t, workflow.ErrKindTimeout, Classify(err).Kind)
	assert.Equal(t, 1, exec.attempts)
}

func TestClassifyUnwrappedError(t *testing.T) {
	classified := Classify(fmt.Errorf("something broke"))
	assert.Equal(t, workflow.ErrKindInternal, classified.Kind)
	assert.False(t, classified.Transient)
}

func TestRegistryDuplicateRejected(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&scriptedExecutor{name: "web_search"}))
	assert.Error(t, registry.Register(&scriptedExecutor{name: "web_search"}))
	assert.Equal(t, []string{"web_search"}, registry.Names())
}
