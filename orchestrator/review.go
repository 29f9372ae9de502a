package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskforge-ai/taskforge/store"
	"github.com/taskforge-ai/taskforge/trace"
	"github.com/taskforge-ai/taskforge/workflow"
)

// ResolveReview applies a human verdict to a pending review. The second
// return reports whether the session resumed executing as a result.
// Resolving an already-resolved review returns the stored item unchanged.
func (o *Orchestrator) ResolveReview(ctx context.Context, reviewID string, approve bool, notes string) (*workflow.ReviewItem, bool, error) {
	status := workflow.ReviewStatusRejected
	if approve {
		status = workflow.ReviewStatusApproved
	}
	return o.resolveReview(ctx, reviewID, status, notes)
}

func (o *Orchestrator) resolveReview(ctx context.Context, reviewID string, status workflow.ReviewStatus, notes string) (*workflow.ReviewItem, bool, error) {
	item, changed, err := o.resolveItem(ctx, reviewID, status, notes)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return item, false, nil
	}

	o.metrics.ReviewsResolvedTotal.WithLabelValues(string(status)).Inc()
	o.metrics.PendingReviews.Dec()

	o.record(ctx, &trace.Record{
		SessionID:  item.SessionID,
		TaskID:     item.TaskID,
		ActionType: trace.ActionReviewResolved,
		Metadata:   map[string]string{"review_id": item.ID, "status": string(status)},
	})

	o.logger.Info("review resolved",
		"review_id", item.ID,
		"session_id", item.SessionID,
		"task_id", item.TaskID,
		"status", status)

	resumed, err := o.applyReviewOutcome(ctx, item, status)
	if err != nil {
		return item, false, err
	}
	return item, resumed, nil
}

// resolveItem flips the review to a terminal status under optimistic
// concurrency. The second return reports whether this call did the flip.
func (o *Orchestrator) resolveItem(ctx context.Context, reviewID string, status workflow.ReviewStatus, notes string) (*workflow.ReviewItem, bool, error) {
	var lastErr error

	for attempt := 0; attempt <= o.cfg.ConflictRetries; attempt++ {
		item, err := o.store.GetReview(ctx, reviewID)
		if err != nil {
			return nil, false, err
		}

		changed, err := item.Resolve(status, notes)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return item, false, nil
		}

		err = o.store.SaveReview(ctx, item)
		if err == nil {
			return item, true, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, false, err
		}
		lastErr = err
	}

	return nil, false, fmt.Errorf("review %s: conflict retries exhausted: %w", reviewID, lastErr)
}

// applyReviewOutcome records the verdict on the session and, when no
// reviews remain pending, moves it back to executing and resumes the run
// in the background. A timeout counts as a rejection.
func (o *Orchestrator) applyReviewOutcome(ctx context.Context, item *workflow.ReviewItem, status workflow.ReviewStatus) (bool, error) {
	sess, err := o.updateSession(ctx, item.SessionID, func(s *workflow.Session) error {
		if s.Status.Terminal() {
			return nil
		}

		s.PendingReviews = removeID(s.PendingReviews, item.ID)

		if status == workflow.ReviewStatusApproved {
			s.TaskStates[item.TaskID] = workflow.TaskStateSucceeded
		} else {
			failTask(s, item.TaskID)
		}

		if s.Status == workflow.SessionStatusReviewing && len(s.PendingReviews) == 0 {
			return s.Transition(workflow.SessionStatusExecuting)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if status == workflow.ReviewStatusApproved {
		o.metrics.TasksDispatchedTotal.WithLabelValues("succeeded").Inc()
	} else {
		o.metrics.TasksDispatchedTotal.WithLabelValues("failed").Inc()
	}

	if sess.Status != workflow.SessionStatusExecuting {
		return false, nil
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Run(context.Background(), sess.ID); err != nil {
			o.logger.Error("session resume failed",
				"session_id", sess.ID,
				"error", err)
		}
	}()
	return true, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
