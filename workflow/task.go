package workflow

import "fmt"

// TaskKind classifies how a task is executed.
type TaskKind string

const (
	// TaskKindRemoteCall delegates to a named external tool.
	TaskKindRemoteCall TaskKind = "remote_call"
	// TaskKindComputation runs a local skill with no remote call.
	TaskKindComputation TaskKind = "computation"
	// TaskKindValidation checks prior output locally.
	TaskKindValidation TaskKind = "validation"
)

// Bounds on planner-produced task fields.
const (
	MinTaskTimeoutSeconds = 5
	MaxTaskTimeoutSeconds = 300
	MaxTaskRetries        = 3
)

// Task is one atomic unit of work produced by planning. Tasks are immutable
// after creation; execution state lives on the owning Session.
type Task struct {
	ID          string   `json:"id"`
	Kind        TaskKind `json:"kind"`
	Description string   `json:"description"`

	// ToolName names the external tool for remote_call tasks.
	ToolName string `json:"tool_name,omitempty"`

	// Parameters are passed verbatim to the tool or local skill.
	Parameters map[string]any `json:"parameters,omitempty"`

	// TimeoutSeconds bounds one execution attempt including tool-level retries.
	TimeoutSeconds int `json:"timeout_seconds"`

	// RetryLimit is the orchestrator-level re-dispatch budget (0-3). It is
	// independent of the tool client's internal retry cap.
	RetryLimit int `json:"retry_limit"`

	// DependsOn lists task ids that must be dispositioned first.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Validate checks task field bounds.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	switch t.Kind {
	case TaskKindRemoteCall:
		if t.ToolName == "" {
			return fmt.Errorf("task %s: tool_name is required for remote_call tasks", t.ID)
		}
	case TaskKindComputation, TaskKindValidation:
	default:
		return fmt.Errorf("task %s: unknown kind %q", t.ID, t.Kind)
	}
	if t.Description == "" {
		return fmt.Errorf("task %s: description is required", t.ID)
	}
	if t.TimeoutSeconds < MinTaskTimeoutSeconds || t.TimeoutSeconds > MaxTaskTimeoutSeconds {
		return fmt.Errorf("task %s: timeout_seconds must be %d-%d, got %d",
			t.ID, MinTaskTimeoutSeconds, MaxTaskTimeoutSeconds, t.TimeoutSeconds)
	}
	if t.RetryLimit < 0 || t.RetryLimit > MaxTaskRetries {
		return fmt.Errorf("task %s: retry_limit must be 0-%d, got %d", t.ID, MaxTaskRetries, t.RetryLimit)
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return fmt.Errorf("task %s: depends on itself", t.ID)
		}
	}
	return nil
}
