package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the orchestrator.
type Metrics struct {
	SessionsTotal        *prometheus.CounterVec
	TasksDispatchedTotal *prometheus.CounterVec
	TaskDuration         *prometheus.HistogramVec
	DecisionsTotal       *prometheus.CounterVec
	ReviewsResolvedTotal *prometheus.CounterVec
	SaveConflictsTotal   prometheus.Counter
	SweepsTotal          prometheus.Counter
	PendingReviews       prometheus.Gauge
}

// NewMetrics creates and registers orchestrator metrics. Registration
// happens once per process; later calls return the same set.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SessionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskforge_sessions_total",
					Help: "Sessions finished, by terminal status",
				},
				[]string{"status"}, // "complete" or "failed"
			),

			TasksDispatchedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskforge_tasks_dispatched_total",
					Help: "Task dispatches, by disposition",
				},
				[]string{"disposition"}, // "succeeded", "failed", "skipped", "retried"
			),

			TaskDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "taskforge_task_duration_seconds",
					Help:    "Task execution time in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
				},
				[]string{"kind"},
			),

			DecisionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskforge_judge_decisions_total",
					Help: "Judge decisions, by gate",
				},
				[]string{"gate"}, // "auto_approve", "auto_reject", "human_review"
			),

			ReviewsResolvedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskforge_reviews_resolved_total",
					Help: "Human review resolutions, by outcome",
				},
				[]string{"outcome"}, // "approved", "rejected", "timeout"
			),

			SaveConflictsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "taskforge_save_conflicts_total",
					Help: "Optimistic-concurrency conflicts on session saves",
				},
			),

			SweepsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "taskforge_review_sweeps_total",
					Help: "Review timeout sweep passes",
				},
			),

			PendingReviews: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "taskforge_pending_reviews",
					Help: "Review items currently awaiting a human",
				},
			),
		}
	})

	return globalMetrics
}
