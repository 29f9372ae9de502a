// Package trace records orchestration actions for later inspection. Every
// remote tool attempt, stage transition, and review resolution can emit a
// record; sinks persist them keyed by trace id.
package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action types emitted by the orchestration stages. Each stage records an
// entry action when it starts and an exit action when it returns.
const (
	ActionToolAttempt       = "tool_attempt"
	ActionPlanStarted       = "plan_started"
	ActionPlanCreated       = "plan_created"
	ActionTaskDispatched    = "task_dispatched"
	ActionTaskCompleted     = "task_completed"
	ActionAssessmentStarted = "assessment_started"
	ActionTaskJudged        = "task_judged"
	ActionReviewQueued      = "review_queued"
	ActionReviewResolved    = "review_resolved"
	ActionSessionClosed     = "session_closed"
)

// Record is one audit entry. Metadata values are truncated by sinks, not
// callers, so callers can pass raw payloads.
type Record struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	TaskID     string            `json:"task_id,omitempty"`
	ActionType string            `json:"action_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Sink persists trace records. Implementations must be safe for concurrent
// use; recording failures must never fail the traced operation.
type Sink interface {
	// Record persists the record, assigning ID and Timestamp when unset,
	// and returns the trace id.
	Record(ctx context.Context, rec *Record) (string, error)
}

// stamp fills in generated fields.
func stamp(rec *Record) {
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("trc-%s", uuid.New().String()[:8])
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
}

// MaxMetadataValueLength caps stored metadata values.
const MaxMetadataValueLength = 2000

// truncateMetadata bounds metadata values before persistence.
func truncateMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		if len(v) > MaxMetadataValueLength {
			v = v[:MaxMetadataValueLength] + "..."
		}
		out[k] = v
	}
	return out
}
