package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResultStatus is the outcome classification of one task execution.
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusFailure ResultStatus = "failure"
	ResultStatusTimeout ResultStatus = "timeout"
)

// Execution error kinds, classified at the tool boundary.
const (
	ErrKindToolUnavailable = "tool_unavailable"
	ErrKindToolNotFound    = "tool_not_found"
	ErrKindAuthentication  = "authentication"
	ErrKindTimeout         = "timeout"
	ErrKindRateLimited     = "rate_limited"
	ErrKindValidation      = "validation"
	ErrKindInternal        = "internal"
)

// WorkerResult is the immutable outcome of executing one task attempt.
// Exactly one of Output or Error is populated, determined by Status.
type WorkerResult struct {
	TaskID string       `json:"task_id"`
	Status ResultStatus `json:"status"`

	// Output is the task's result payload, present iff Status is success.
	Output json.RawMessage `json:"output,omitempty"`

	// Error and ErrorKind describe the failure, present iff Status is
	// failure or timeout.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	// ExecutionSeconds covers all tool-level attempts for this dispatch.
	ExecutionSeconds float64 `json:"execution_seconds"`

	// ToolTrace carries opaque invocation metadata (trace ids, attempt counts).
	ToolTrace map[string]string `json:"tool_trace,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Validate enforces the output-xor-error invariant.
func (r *WorkerResult) Validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	switch r.Status {
	case ResultStatusSuccess:
		if len(r.Output) == 0 {
			return fmt.Errorf("result for task %s: success requires output", r.TaskID)
		}
		if r.Error != "" {
			return fmt.Errorf("result for task %s: success must not carry an error", r.TaskID)
		}
	case ResultStatusFailure, ResultStatusTimeout:
		if r.Error == "" {
			return fmt.Errorf("result for task %s: %s requires an error", r.TaskID, r.Status)
		}
		if len(r.Output) != 0 {
			return fmt.Errorf("result for task %s: %s must not carry output", r.TaskID, r.Status)
		}
	default:
		return fmt.Errorf("result for task %s: unknown status %q", r.TaskID, r.Status)
	}
	return nil
}
