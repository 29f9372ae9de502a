package workflow

import (
	"testing"
	"time"
)

func TestGateForConfidence(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		want       Gate
	}{
		{"well above approve threshold", 0.95, GateAutoApprove},
		{"just above approve threshold", 0.901, GateAutoApprove},
		{"exactly at approve threshold", 0.90, GateHumanReview},
		{"inside review band", 0.80, GateHumanReview},
		{"exactly at reject threshold", 0.70, GateHumanReview},
		{"just below reject threshold", 0.699, GateAutoReject},
		{"well below reject threshold", 0.40, GateAutoReject},
		{"zero", 0.0, GateAutoReject},
		{"one", 1.0, GateAutoApprove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GateForConfidence(tt.confidence); got != tt.want {
				t.Errorf("GateForConfidence(%v) = %v, want %v", tt.confidence, got, tt.want)
			}
		})
	}
}

func TestReviewDecisionValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       ReviewDecision
		wantErr bool
	}{
		{
			name: "auto-approve consistent",
			d:    ReviewDecision{TaskID: "task-1", Approved: true, Confidence: 0.95, Reasoning: "ok"},
		},
		{
			name:    "auto-approve band but not approved",
			d:       ReviewDecision{TaskID: "task-1", Approved: false, Confidence: 0.95, Reasoning: "ok"},
			wantErr: true,
		},
		{
			name: "review band flagged",
			d:    ReviewDecision{TaskID: "task-1", Confidence: 0.80, RequiresHumanReview: true, Reasoning: "ok"},
		},
		{
			name:    "review band not flagged",
			d:       ReviewDecision{TaskID: "task-1", Confidence: 0.80, Reasoning: "ok"},
			wantErr: true,
		},
		{
			name: "auto-reject consistent",
			d:    ReviewDecision{TaskID: "task-1", Confidence: 0.50, Reasoning: "poor output"},
		},
		{
			name:    "auto-reject band approved",
			d:       ReviewDecision{TaskID: "task-1", Approved: true, Confidence: 0.50, Reasoning: "ok"},
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			d:       ReviewDecision{TaskID: "task-1", Confidence: 1.2, Reasoning: "ok"},
			wantErr: true,
		},
		{
			name:    "missing reasoning",
			d:       ReviewDecision{TaskID: "task-1", Confidence: 0.50},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReviewItemResolveIdempotent(t *testing.T) {
	result := WorkerResult{TaskID: "task-1", Status: ResultStatusSuccess, Output: []byte(`{"ok":true}`), Timestamp: time.Now()}
	decision := ReviewDecision{TaskID: "task-1", Confidence: 0.80, RequiresHumanReview: true, Reasoning: "borderline"}

	item := NewReviewItem("sess-1", result, decision, 24*time.Hour)
	if item.Status != ReviewStatusPending {
		t.Fatalf("new review status = %s, want pending", item.Status)
	}
	if !item.TimeoutAt.After(item.SubmittedAt) {
		t.Fatal("timeout_at must be after submitted_at")
	}

	changed, err := item.Resolve(ReviewStatusApproved, "looks good")
	if err != nil || !changed {
		t.Fatalf("first resolve: changed=%v err=%v", changed, err)
	}
	if item.Status != ReviewStatusApproved || item.ReviewerNotes != "looks good" {
		t.Fatalf("after resolve: status=%s notes=%q", item.Status, item.ReviewerNotes)
	}

	submittedAt, timeoutAt := item.SubmittedAt, item.TimeoutAt
	resolvedAt := *item.ResolvedAt

	// A second resolution, even with a different terminal status, is a no-op.
	changed, err = item.Resolve(ReviewStatusRejected, "changed my mind")
	if err != nil {
		t.Fatalf("second resolve returned error: %v", err)
	}
	if changed {
		t.Fatal("second resolve mutated a terminal review")
	}
	if item.Status != ReviewStatusApproved {
		t.Fatalf("terminal status changed to %s", item.Status)
	}
	if item.SubmittedAt != submittedAt || item.TimeoutAt != timeoutAt || *item.ResolvedAt != resolvedAt {
		t.Fatal("terminal resolve mutated timestamps")
	}

	// Resolving to a non-terminal status is a caller bug.
	if _, err := item.Resolve(ReviewStatusPending, ""); err == nil {
		t.Fatal("resolve to pending should fail")
	}
}
