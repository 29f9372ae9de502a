// Package workflow defines the domain model for taskforge sessions:
// the session lifecycle, planned tasks, worker results, judge decisions,
// and human review items.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Goal length bounds enforced at submission.
const (
	MinGoalLength = 10
	MaxGoalLength = 500
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusPlanning  SessionStatus = "planning"
	SessionStatusExecuting SessionStatus = "executing"
	SessionStatusReviewing SessionStatus = "reviewing"
	SessionStatusComplete  SessionStatus = "complete"
	SessionStatusFailed    SessionStatus = "failed"
)

// Terminal returns true if the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusComplete || s == SessionStatusFailed
}

// sessionTransitions maps each status to its allowed successors.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPlanning:  {SessionStatusExecuting, SessionStatusFailed},
	SessionStatusExecuting: {SessionStatusExecuting, SessionStatusReviewing, SessionStatusComplete, SessionStatusFailed},
	SessionStatusReviewing: {SessionStatusExecuting, SessionStatusFailed},
	SessionStatusComplete:  nil,
	SessionStatusFailed:    nil,
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskState is the orchestrator's disposition of one task within a session.
// Tasks themselves are immutable after planning; their execution state is
// tracked here so a process restart can resume from persisted state alone.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
	// TaskStateSkipped marks a task whose dependency failed or was rejected.
	TaskStateSkipped TaskState = "skipped"
)

// Session is one end-to-end workflow instance from goal submission to
// completion or failure.
type Session struct {
	ID          string            `json:"id"`
	Goal        string            `json:"goal"`
	Context     map[string]string `json:"context,omitempty"`
	Constraints []string          `json:"constraints,omitempty"`
	Status      SessionStatus     `json:"status"`

	// Tasks is the ordered task list produced by planning. Immutable after
	// the planning transition except for per-task retry counters.
	Tasks []Task `json:"tasks,omitempty"`

	// TaskStates tracks the disposition of each task by id.
	TaskStates map[string]TaskState `json:"task_states,omitempty"`

	// Retries counts orchestrator-level re-dispatches per task id. This is
	// a separate budget from the tool client's internal retries.
	Retries map[string]int `json:"retries"`

	// Results holds every attempt's WorkerResult in completion order,
	// append-only.
	Results []WorkerResult `json:"results,omitempty"`

	// Decisions holds the judge decision for each judged task.
	Decisions []ReviewDecision `json:"decisions,omitempty"`

	// PendingReviews lists review item ids awaiting human resolution.
	PendingReviews []string `json:"pending_reviews,omitempty"`

	// Reasoning carries the planner's rationale, and on failure the
	// human-readable failure explanation.
	Reasoning string `json:"reasoning,omitempty"`

	// EstimatedMinutes is the planner's duration estimate for the whole plan.
	EstimatedMinutes int `json:"estimated_minutes,omitempty"`

	// PlanConfidence is the planner's confidence in the task list.
	PlanConfidence float64 `json:"plan_confidence,omitempty"`

	// Version is the optimistic-concurrency version of the persisted record.
	// It mirrors the KV revision and is set by the store on load and save;
	// a save whose Version does not match the stored revision is rejected.
	Version uint64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session in the planning state with a generated id.
func NewSession(goal string, context map[string]string, constraints []string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          fmt.Sprintf("sess-%s", uuid.New().String()[:8]),
		Goal:        goal,
		Context:     context,
		Constraints: constraints,
		Status:      SessionStatusPlanning,
		TaskStates:  make(map[string]TaskState),
		Retries:     make(map[string]int),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks structural shape only; domain rules live in the stages.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if len(s.Goal) < MinGoalLength || len(s.Goal) > MaxGoalLength {
		return fmt.Errorf("goal must be %d-%d characters, got %d", MinGoalLength, MaxGoalLength, len(s.Goal))
	}
	switch s.Status {
	case SessionStatusPlanning, SessionStatusExecuting, SessionStatusReviewing,
		SessionStatusComplete, SessionStatusFailed:
	default:
		return fmt.Errorf("unknown session status: %s", s.Status)
	}
	return nil
}

// Transition moves the session to a new status, rejecting backward or
// otherwise disallowed edges.
func (s *Session) Transition(to SessionStatus) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("invalid session transition: %s -> %s", s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// TaskByID returns the task with the given id, or nil.
func (s *Session) TaskByID(id string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// Progress summarizes task dispositions for status reporting.
type Progress struct {
	TotalTasks     int `json:"total_tasks"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	Pending        int `json:"pending"`
	PendingReviews int `json:"pending_reviews"`
}

// Progress computes task counts by disposition.
func (s *Session) Progress() Progress {
	p := Progress{
		TotalTasks:     len(s.Tasks),
		PendingReviews: len(s.PendingReviews),
	}
	for _, t := range s.Tasks {
		switch s.TaskStates[t.ID] {
		case TaskStateSucceeded:
			p.Succeeded++
		case TaskStateFailed:
			p.Failed++
		case TaskStateSkipped:
			p.Skipped++
		default:
			p.Pending++
		}
	}
	return p
}
