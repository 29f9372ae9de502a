package orchestrator

import (
	"context"
	"time"

	"github.com/taskforge-ai/taskforge/workflow"
)

// StartSweeper runs the review-timeout sweeper until ctx is cancelled. It
// sweeps once immediately, then every SweepInterval.
func (o *Orchestrator) StartSweeper(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ticker := time.NewTicker(o.cfg.SweepInterval)
		defer ticker.Stop()

		o.logger.Info("review sweeper started",
			"interval", o.cfg.SweepInterval,
			"review_window", o.cfg.ReviewWindow)

		o.Sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				o.logger.Info("review sweeper stopped")
				return
			case <-ticker.C:
				o.Sweep(ctx)
			}
		}
	}()
}

// Sweep times out every pending review whose window has elapsed. A
// timed-out review is treated as a rejection.
func (o *Orchestrator) Sweep(ctx context.Context) {
	o.metrics.SweepsTotal.Inc()

	items, err := o.store.ListReviews(ctx, workflow.ReviewStatusPending)
	if err != nil {
		o.logger.Warn("review sweep failed to list pending reviews", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, item := range items {
		if now.Before(item.TimeoutAt) {
			continue
		}

		o.logger.Info("review window elapsed, timing out",
			"review_id", item.ID,
			"session_id", item.SessionID,
			"timeout_at", item.TimeoutAt)

		if _, _, err := o.resolveReview(ctx, item.ID, workflow.ReviewStatusTimeout, "review window elapsed"); err != nil {
			o.logger.Warn("failed to time out review",
				"review_id", item.ID,
				"error", err)
		}
	}
}
