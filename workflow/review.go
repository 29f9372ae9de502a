package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Confidence thresholds gating automation. These are protocol constants,
// not runtime configuration: changing them is a breaking change.
const (
	AutoApproveThreshold = 0.90
	AutoRejectThreshold  = 0.70
)

// Gate is the routing outcome for a confidence score.
type Gate string

const (
	GateAutoApprove Gate = "auto_approve"
	GateAutoReject  Gate = "auto_reject"
	GateHumanReview Gate = "human_review"
)

// GateForConfidence applies the fixed thresholds:
// above 0.90 auto-approve, below 0.70 auto-reject, the closed band
// [0.70, 0.90] requires a human.
func GateForConfidence(confidence float64) Gate {
	switch {
	case confidence > AutoApproveThreshold:
		return GateAutoApprove
	case confidence < AutoRejectThreshold:
		return GateAutoReject
	default:
		return GateHumanReview
	}
}

// ReviewDecision is the judge's immutable verdict on one WorkerResult.
type ReviewDecision struct {
	TaskID              string             `json:"task_id"`
	Approved            bool               `json:"approved"`
	Confidence          float64            `json:"confidence"`
	RequiresHumanReview bool               `json:"requires_human_review"`
	Reasoning           string             `json:"reasoning"`
	QualityMetrics      map[string]float64 `json:"quality_metrics,omitempty"`
	SuggestedAction     string             `json:"suggested_action,omitempty"`
}

// Validate checks the decision against the gating invariant.
func (d *ReviewDecision) Validate() error {
	if d.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be 0.0-1.0, got %v", d.Confidence)
	}
	if d.Reasoning == "" {
		return fmt.Errorf("reasoning is required")
	}
	switch GateForConfidence(d.Confidence) {
	case GateAutoApprove:
		if !d.Approved || d.RequiresHumanReview {
			return fmt.Errorf("confidence %.2f requires approved=true and no human review", d.Confidence)
		}
	case GateAutoReject:
		if d.Approved || d.RequiresHumanReview {
			return fmt.Errorf("confidence %.2f requires approved=false and no human review", d.Confidence)
		}
	case GateHumanReview:
		if !d.RequiresHumanReview {
			return fmt.Errorf("confidence %.2f requires human review", d.Confidence)
		}
	}
	return nil
}

// ReviewStatus is the lifecycle state of a human review item.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
	ReviewStatusTimeout  ReviewStatus = "timeout"
)

// Terminal returns true once the review can no longer change.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewStatusApproved || s == ReviewStatusRejected || s == ReviewStatusTimeout
}

// ReviewItem is a pending human-approval request. It is created when a judge
// decision lands in the human-review band and resolved exactly once, either
// by an external approve/reject call or by the timeout sweeper.
type ReviewItem struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`

	Result   WorkerResult   `json:"result"`
	Decision ReviewDecision `json:"decision"`

	SubmittedAt time.Time    `json:"submitted_at"`
	TimeoutAt   time.Time    `json:"timeout_at"`
	Status      ReviewStatus `json:"status"`

	ReviewerNotes string     `json:"reviewer_notes,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`

	// Version mirrors the KV revision for optimistic concurrency.
	Version uint64 `json:"-"`
}

// NewReviewItem creates a pending review with the given deadline window.
func NewReviewItem(sessionID string, result WorkerResult, decision ReviewDecision, window time.Duration) *ReviewItem {
	now := time.Now().UTC()
	return &ReviewItem{
		ID:          fmt.Sprintf("rev-%s", uuid.New().String()[:8]),
		SessionID:   sessionID,
		TaskID:      result.TaskID,
		Result:      result,
		Decision:    decision,
		SubmittedAt: now,
		TimeoutAt:   now.Add(window),
		Status:      ReviewStatusPending,
	}
}

// Validate checks structural invariants.
func (r *ReviewItem) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("review id is required")
	}
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if !r.TimeoutAt.After(r.SubmittedAt) {
		return fmt.Errorf("timeout_at must be after submitted_at")
	}
	return nil
}

// Resolve transitions a pending review to a terminal status. Resolving an
// already-terminal item is a no-op: it returns false without mutating the
// item, which makes external resolution and the sweeper idempotent.
func (r *ReviewItem) Resolve(status ReviewStatus, notes string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("cannot resolve review to non-terminal status %q", status)
	}
	if r.Status.Terminal() {
		return false, nil
	}
	now := time.Now().UTC()
	r.Status = status
	r.ResolvedAt = &now
	if notes != "" {
		r.ReviewerNotes = notes
	}
	return true, nil
}
