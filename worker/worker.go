// Package worker executes planned tasks: remote calls through the tool
// client, computations and validations through an LLM. Failures never
// surface as Go errors; every execution produces a WorkerResult whose
// status and error kind encode the outcome.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/tool"
	"github.com/taskforge-ai/taskforge/workflow"
)

// invoker is the subset of the tool client the worker uses.
type invoker interface {
	Invoke(ctx context.Context, inv tool.Invocation) (json.RawMessage, map[string]string, error)
}

// completer is the subset of the LLM client used for computation and
// validation tasks.
type completer interface {
	CompleteJSON(ctx context.Context, req llm.Request, out any) (*llm.Response, error)
}

// Worker executes one task at a time.
type Worker struct {
	tools  invoker
	llm    completer
	logger *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New creates a worker over the given tool client and LLM client.
func New(tools invoker, llmClient completer, opts ...Option) *Worker {
	w := &Worker{
		tools:  tools,
		llm:    llmClient,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute runs one task attempt, bounded by the task's timeout. The
// prerequisite outputs map carries the Output of each task this one
// depends on.
func (w *Worker) Execute(ctx context.Context, sessionID string, task workflow.Task, priorOutputs map[string]json.RawMessage) workflow.WorkerResult {
	started := time.Now()

	timeout := time.Duration(task.TimeoutSeconds) * time.Second
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		output    json.RawMessage
		toolTrace map[string]string
		err       error
	)

	switch task.Kind {
	case workflow.TaskKindRemoteCall:
		output, toolTrace, err = w.tools.Invoke(taskCtx, tool.Invocation{
			SessionID: sessionID,
			TaskID:    task.ID,
			Tool:      task.ToolName,
			Params:    task.Parameters,
		})
	case workflow.TaskKindComputation:
		output, err = w.complete(taskCtx, computationSystemPrompt, task, priorOutputs)
	case workflow.TaskKindValidation:
		output, err = w.validate(taskCtx, task, priorOutputs)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	elapsed := time.Since(started).Seconds()

	if err != nil {
		result := failureResult(task.ID, err, elapsed, toolTrace)
		w.logger.Debug("task execution failed",
			"session_id", sessionID,
			"task_id", task.ID,
			"kind", task.Kind,
			"error_kind", result.ErrorKind,
			"status", result.Status)
		return result
	}

	w.logger.Debug("task execution succeeded",
		"session_id", sessionID,
		"task_id", task.ID,
		"kind", task.Kind,
		"seconds", elapsed)

	return workflow.WorkerResult{
		TaskID:           task.ID,
		Status:           workflow.ResultStatusSuccess,
		Output:           output,
		ExecutionSeconds: elapsed,
		ToolTrace:        toolTrace,
		Timestamp:        time.Now().UTC(),
	}
}

// complete runs an LLM-backed computation and returns its JSON output.
func (w *Worker) complete(ctx context.Context, systemPrompt string, task workflow.Task, priorOutputs map[string]json.RawMessage) (json.RawMessage, error) {
	var out map[string]any
	if _, err := w.llm.CompleteJSON(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: taskPrompt(task, priorOutputs)},
		},
		MaxTokens: 4096,
	}, &out); err != nil {
		return nil, err
	}

	output, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal computation output: %w", err)
	}
	return output, nil
}

// validationOutput is the required shape of a validation result.
type validationOutput struct {
	Valid   bool     `json:"valid"`
	Issues  []string `json:"issues"`
	Summary string   `json:"summary"`
}

// validate runs an LLM-backed validation. A "not valid" verdict is still a
// successful execution; the judge weighs the verdict itself.
func (w *Worker) validate(ctx context.Context, task workflow.Task, priorOutputs map[string]json.RawMessage) (json.RawMessage, error) {
	var out validationOutput
	if _, err := w.llm.CompleteJSON(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: validationSystemPrompt},
			{Role: "user", Content: taskPrompt(task, priorOutputs)},
		},
		MaxTokens: 2048,
	}, &out); err != nil {
		return nil, err
	}

	output, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal validation output: %w", err)
	}
	return output, nil
}

// failureResult maps an execution error to a failure or timeout result.
func failureResult(taskID string, err error, elapsed float64, toolTrace map[string]string) workflow.WorkerResult {
	status := workflow.ResultStatusFailure
	kind := workflow.ErrKindInternal

	var te *tool.Error
	switch {
	case errors.As(err, &te):
		kind = te.Kind
	case errors.Is(err, context.DeadlineExceeded):
		kind = workflow.ErrKindTimeout
	}

	if kind == workflow.ErrKindTimeout {
		status = workflow.ResultStatusTimeout
	}

	return workflow.WorkerResult{
		TaskID:           taskID,
		Status:           status,
		Error:            err.Error(),
		ErrorKind:        kind,
		ExecutionSeconds: elapsed,
		ToolTrace:        toolTrace,
		Timestamp:        time.Now().UTC(),
	}
}
