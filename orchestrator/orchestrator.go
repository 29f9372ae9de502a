// Package orchestrator drives sessions through the planning, executing,
// reviewing, and terminal states. It owns all session writes: the planner,
// worker, and judge are pure stages, and every disposition lands in the
// store through an optimistic-concurrency update loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskforge-ai/taskforge/planner"
	"github.com/taskforge-ai/taskforge/store"
	"github.com/taskforge-ai/taskforge/trace"
	"github.com/taskforge-ai/taskforge/workflow"
)

// Config holds orchestrator tuning knobs.
type Config struct {
	// ReviewWindow is how long a queued human review stays actionable
	// before the sweeper times it out.
	ReviewWindow time.Duration

	// SweepInterval is how often the sweeper scans for overdue reviews.
	SweepInterval time.Duration

	// ConflictRetries bounds re-read attempts after a version conflict on
	// a session save before the operation is abandoned.
	ConflictRetries int
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		ReviewWindow:    24 * time.Hour,
		SweepInterval:   time.Minute,
		ConflictRetries: 3,
	}
}

// planRunner is the planning stage.
type planRunner interface {
	Plan(ctx context.Context, req planner.Request) (*planner.Result, error)
}

// taskRunner is the execution stage.
type taskRunner interface {
	Execute(ctx context.Context, sessionID string, task workflow.Task, priorOutputs map[string]json.RawMessage) workflow.WorkerResult
}

// resultJudge is the assessment stage.
type resultJudge interface {
	Assess(ctx context.Context, task workflow.Task, result workflow.WorkerResult, guidelines string) (workflow.ReviewDecision, error)
}

// Orchestrator coordinates the stages over the store.
type Orchestrator struct {
	store   *store.Store
	planner planRunner
	worker  taskRunner
	judge   resultJudge
	sink    trace.Sink
	metrics *Metrics
	cfg     Config
	logger  *slog.Logger

	wg sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		def := DefaultConfig()
		if cfg.ReviewWindow <= 0 {
			cfg.ReviewWindow = def.ReviewWindow
		}
		if cfg.SweepInterval <= 0 {
			cfg.SweepInterval = def.SweepInterval
		}
		if cfg.ConflictRetries <= 0 {
			cfg.ConflictRetries = def.ConflictRetries
		}
		o.cfg = cfg
	}
}

// WithTraceSink enables trace records for orchestration actions.
func WithTraceSink(sink trace.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator over the given store and stages.
func New(st *store.Store, p planRunner, w taskRunner, j resultJudge, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   st,
		planner: p,
		worker:  w,
		judge:   j,
		metrics: NewMetrics(),
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SubmitGoal creates a session for the goal and starts driving it in the
// background. The returned session is in the planning state.
func (o *Orchestrator) SubmitGoal(ctx context.Context, goal string, goalContext map[string]string, constraints []string) (*workflow.Session, error) {
	sess := workflow.NewSession(goal, goalContext, constraints)
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	o.logger.Info("session submitted",
		"session_id", sess.ID,
		"goal_len", len(sess.Goal))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Run(context.Background(), sess.ID); err != nil {
			o.logger.Error("session run failed",
				"session_id", sess.ID,
				"error", err)
		}
	}()

	return sess, nil
}

// GetSession loads a session by id.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*workflow.Session, error) {
	return o.store.GetSession(ctx, id)
}

// GetReview loads a review item by id.
func (o *Orchestrator) GetReview(ctx context.Context, id string) (*workflow.ReviewItem, error) {
	return o.store.GetReview(ctx, id)
}

// ListPendingReviews returns all reviews awaiting a human.
func (o *Orchestrator) ListPendingReviews(ctx context.Context) ([]*workflow.ReviewItem, error) {
	return o.store.ListReviews(ctx, workflow.ReviewStatusPending)
}

// ExtendRetention restarts a session's retention window.
func (o *Orchestrator) ExtendRetention(ctx context.Context, sessionID string) error {
	return o.store.ExtendSessionRetention(ctx, sessionID)
}

// Wait blocks until all background session work has finished. Intended for
// shutdown and tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Run drives a session from its persisted state until it reaches a
// terminal status or pauses for human review. Safe to call again on a
// session that already finished.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) error {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	switch sess.Status {
	case workflow.SessionStatusPlanning:
		if err := o.plan(ctx, sess); err != nil {
			return err
		}
		return o.executeLoop(ctx, sessionID)
	case workflow.SessionStatusExecuting:
		return o.executeLoop(ctx, sessionID)
	default:
		// Reviewing sessions resume via ResolveReview; terminal sessions
		// have nothing left to do.
		return nil
	}
}

// plan invokes the planner and transitions the session to executing, or to
// failed when no plan can be produced.
func (o *Orchestrator) plan(ctx context.Context, sess *workflow.Session) error {
	o.record(ctx, &trace.Record{
		SessionID:  sess.ID,
		ActionType: trace.ActionPlanStarted,
		Metadata:   map[string]string{"goal_length": fmt.Sprintf("%d", len(sess.Goal))},
	})

	result, err := o.planner.Plan(ctx, planner.Request{
		Goal:        sess.Goal,
		Context:     sess.Context,
		Constraints: sess.Constraints,
	})
	if err != nil {
		o.logger.Warn("planning failed",
			"session_id", sess.ID,
			"error", err)
		return o.failSession(ctx, sess.ID, fmt.Sprintf("planning failed: %v", err))
	}

	_, err = o.updateSession(ctx, sess.ID, func(s *workflow.Session) error {
		s.Tasks = result.Tasks
		s.Reasoning = result.Reasoning
		s.EstimatedMinutes = result.EstimatedMinutes
		s.PlanConfidence = result.Confidence
		if s.TaskStates == nil {
			s.TaskStates = make(map[string]workflow.TaskState)
		}
		if s.Retries == nil {
			s.Retries = make(map[string]int)
		}
		for _, t := range result.Tasks {
			s.TaskStates[t.ID] = workflow.TaskStatePending
		}
		return s.Transition(workflow.SessionStatusExecuting)
	})
	if err != nil {
		return err
	}

	o.record(ctx, &trace.Record{
		SessionID:  sess.ID,
		ActionType: trace.ActionPlanCreated,
		Metadata: map[string]string{
			"tasks":      fmt.Sprintf("%d", len(result.Tasks)),
			"confidence": fmt.Sprintf("%.2f", result.Confidence),
		},
	})

	o.logger.Info("plan created",
		"session_id", sess.ID,
		"tasks", len(result.Tasks),
		"confidence", result.Confidence)

	return nil
}

// executeLoop dispatches ready tasks one at a time until the session
// finishes or pauses. Each iteration re-reads the session, so the loop is
// resumable from persisted state alone.
func (o *Orchestrator) executeLoop(ctx context.Context, sessionID string) error {
	for {
		sess, err := o.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != workflow.SessionStatusExecuting {
			return nil
		}

		graph, err := rebuildGraph(sess)
		if err != nil {
			return o.failSession(ctx, sessionID, fmt.Sprintf("invalid task graph: %v", err))
		}

		task := nextTask(sess, graph)
		if task == nil {
			return o.finalize(ctx, sessionID)
		}

		if _, err := o.updateSession(ctx, sessionID, func(s *workflow.Session) error {
			s.TaskStates[task.ID] = workflow.TaskStateRunning
			return nil
		}); err != nil {
			return err
		}

		o.record(ctx, &trace.Record{
			SessionID:  sessionID,
			TaskID:     task.ID,
			ActionType: trace.ActionTaskDispatched,
			Metadata:   map[string]string{"kind": string(task.Kind), "attempt": fmt.Sprintf("%d", sess.Retries[task.ID]+1)},
		})

		result := o.worker.Execute(ctx, sessionID, *task, priorOutputs(sess))
		o.metrics.TaskDuration.WithLabelValues(string(task.Kind)).Observe(result.ExecutionSeconds)

		o.record(ctx, &trace.Record{
			SessionID:  sessionID,
			TaskID:     task.ID,
			ActionType: trace.ActionTaskCompleted,
			Metadata: map[string]string{
				"status":     string(result.Status),
				"elapsed_ms": fmt.Sprintf("%d", int64(result.ExecutionSeconds*1000)),
			},
		})

		if result.Status != workflow.ResultStatusSuccess {
			if err := o.disposeFailure(ctx, sessionID, task, result, retryableKind(result.ErrorKind)); err != nil {
				return err
			}
			continue
		}

		if err := o.judgeResult(ctx, sessionID, task, result, sess.Goal); err != nil {
			return err
		}
	}
}

// judgeResult assesses a successful result and applies the gated outcome.
// A human-review gate pauses the session.
func (o *Orchestrator) judgeResult(ctx context.Context, sessionID string, task *workflow.Task, result workflow.WorkerResult, goal string) error {
	o.record(ctx, &trace.Record{
		SessionID:  sessionID,
		TaskID:     task.ID,
		ActionType: trace.ActionAssessmentStarted,
	})

	decision, err := o.judge.Assess(ctx, *task, result, goal)
	if err != nil {
		o.logger.Warn("assessment failed, treating task as failed",
			"session_id", sessionID,
			"task_id", task.ID,
			"error", err)

		// An assessment failure says nothing about the output itself, so
		// the task keeps its retry budget.
		result.Status = workflow.ResultStatusFailure
		result.Output = nil
		result.Error = fmt.Sprintf("assessment failed: %v", err)
		result.ErrorKind = workflow.ErrKindInternal
		return o.disposeFailure(ctx, sessionID, task, result, true)
	}

	gate := workflow.GateForConfidence(decision.Confidence)
	o.metrics.DecisionsTotal.WithLabelValues(string(gate)).Inc()

	o.record(ctx, &trace.Record{
		SessionID:  sessionID,
		TaskID:     task.ID,
		ActionType: trace.ActionTaskJudged,
		Metadata: map[string]string{
			"confidence": fmt.Sprintf("%.3f", decision.Confidence),
			"gate":       string(gate),
		},
	})

	switch gate {
	case workflow.GateAutoApprove:
		_, err := o.updateSession(ctx, sessionID, func(s *workflow.Session) error {
			recordResult(s, result)
			recordDecision(s, decision)
			s.TaskStates[task.ID] = workflow.TaskStateSucceeded
			return nil
		})
		o.metrics.TasksDispatchedTotal.WithLabelValues("succeeded").Inc()
		return err

	case workflow.GateHumanReview:
		item := workflow.NewReviewItem(sessionID, result, decision, o.cfg.ReviewWindow)
		if err := o.store.CreateReview(ctx, item); err != nil {
			return fmt.Errorf("queue review: %w", err)
		}

		_, err := o.updateSession(ctx, sessionID, func(s *workflow.Session) error {
			recordResult(s, result)
			recordDecision(s, decision)
			s.PendingReviews = append(s.PendingReviews, item.ID)
			return s.Transition(workflow.SessionStatusReviewing)
		})
		if err != nil {
			return err
		}

		o.metrics.PendingReviews.Inc()
		o.record(ctx, &trace.Record{
			SessionID:  sessionID,
			TaskID:     task.ID,
			ActionType: trace.ActionReviewQueued,
			Metadata:   map[string]string{"review_id": item.ID, "timeout_at": item.TimeoutAt.Format(time.RFC3339)},
		})

		o.logger.Info("task queued for human review",
			"session_id", sessionID,
			"task_id", task.ID,
			"review_id", item.ID,
			"confidence", decision.Confidence)
		return nil

	default: // auto-reject
		_, err := o.updateSession(ctx, sessionID, func(s *workflow.Session) error {
			recordResult(s, result)
			recordDecision(s, decision)
			failTask(s, task.ID)
			return nil
		})
		o.metrics.TasksDispatchedTotal.WithLabelValues("failed").Inc()
		return err
	}
}

// disposeFailure re-queues a transiently failed task while retry budget
// remains, otherwise marks it failed and skips its dependents.
func (o *Orchestrator) disposeFailure(ctx context.Context, sessionID string, task *workflow.Task, result workflow.WorkerResult, retryable bool) error {
	var retried bool

	_, err := o.updateSession(ctx, sessionID, func(s *workflow.Session) error {
		recordResult(s, result)

		if retryable && s.Retries[task.ID] < task.RetryLimit {
			s.Retries[task.ID]++
			s.TaskStates[task.ID] = workflow.TaskStatePending
			retried = true
			return nil
		}

		failTask(s, task.ID)
		retried = false
		return nil
	})
	if err != nil {
		return err
	}

	if retried {
		o.metrics.TasksDispatchedTotal.WithLabelValues("retried").Inc()
		o.logger.Info("task re-queued after transient failure",
			"session_id", sessionID,
			"task_id", task.ID,
			"error_kind", result.ErrorKind)
	} else {
		o.metrics.TasksDispatchedTotal.WithLabelValues("failed").Inc()
		o.logger.Info("task failed",
			"session_id", sessionID,
			"task_id", task.ID,
			"error_kind", result.ErrorKind)
	}
	return nil
}

// finalize closes a session once no task is dispatchable: complete when at
// least one task succeeded, failed otherwise.
func (o *Orchestrator) finalize(ctx context.Context, sessionID string) error {
	var final workflow.SessionStatus

	sess, err := o.updateSession(ctx, sessionID, func(s *workflow.Session) error {
		if s.Status.Terminal() {
			final = s.Status
			return nil
		}

		p := s.Progress()
		switch {
		case p.Pending > 0:
			s.Reasoning = fmt.Sprintf("%d tasks could not be dispatched", p.Pending)
			final = workflow.SessionStatusFailed
		case p.Succeeded > 0:
			final = workflow.SessionStatusComplete
		default:
			if s.Reasoning == "" {
				s.Reasoning = "no tasks succeeded"
			}
			final = workflow.SessionStatusFailed
		}
		return s.Transition(final)
	})
	if err != nil {
		return err
	}

	o.metrics.SessionsTotal.WithLabelValues(string(final)).Inc()
	o.record(ctx, &trace.Record{
		SessionID:  sessionID,
		ActionType: trace.ActionSessionClosed,
		Metadata:   map[string]string{"status": string(final)},
	})

	p := sess.Progress()
	o.logger.Info("session finished",
		"session_id", sessionID,
		"status", final,
		"succeeded", p.Succeeded,
		"failed", p.Failed,
		"skipped", p.Skipped)

	return nil
}

// failSession moves a session to failed with an explanation. No-op when
// the session is already terminal.
func (o *Orchestrator) failSession(ctx context.Context, sessionID, reason string) error {
	_, err := o.updateSession(ctx, sessionID, func(s *workflow.Session) error {
		if s.Status.Terminal() {
			return nil
		}
		s.Reasoning = reason
		return s.Transition(workflow.SessionStatusFailed)
	})
	if err != nil {
		return err
	}

	o.metrics.SessionsTotal.WithLabelValues(string(workflow.SessionStatusFailed)).Inc()
	o.record(ctx, &trace.Record{
		SessionID:  sessionID,
		ActionType: trace.ActionSessionClosed,
		Metadata:   map[string]string{"status": "failed", "reason": reason},
	})
	return nil
}

// updateSession applies mutate inside a read-modify-write loop, re-reading
// on version conflicts up to ConflictRetries times.
func (o *Orchestrator) updateSession(ctx context.Context, id string, mutate func(*workflow.Session) error) (*workflow.Session, error) {
	var lastErr error

	for attempt := 0; attempt <= o.cfg.ConflictRetries; attempt++ {
		sess, err := o.store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := mutate(sess); err != nil {
			return nil, err
		}

		err = o.store.SaveSession(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}

		lastErr = err
		o.metrics.SaveConflictsTotal.Inc()
		o.logger.Debug("session save conflict, re-reading",
			"session_id", id,
			"attempt", attempt+1)
	}

	return nil, fmt.Errorf("session %s: conflict retries exhausted: %w", id, lastErr)
}

// record writes a trace entry; failures are logged, never propagated.
func (o *Orchestrator) record(ctx context.Context, rec *trace.Record) {
	if o.sink == nil {
		return
	}
	if _, err := o.sink.Record(ctx, rec); err != nil {
		o.logger.Warn("failed to record trace",
			"session_id", rec.SessionID,
			"action", rec.ActionType,
			"error", err)
	}
}

// rebuildGraph reconstructs the dependency graph from persisted state:
// dispositioned tasks are replayed so the graph's pending set matches the
// session's task states.
func rebuildGraph(sess *workflow.Session) (*workflow.DependencyGraph, error) {
	graph, err := workflow.NewDependencyGraph(sess.Tasks)
	if err != nil {
		return nil, err
	}

	for id, state := range sess.TaskStates {
		switch state {
		case workflow.TaskStateSucceeded, workflow.TaskStateFailed:
			graph.MarkDone(id)
		case workflow.TaskStateSkipped:
			graph.Remove(id)
		}
	}

	return graph, nil
}

// nextTask picks the first ready task still pending dispatch. Tasks in the
// running state (awaiting review resolution) are never re-dispatched.
func nextTask(sess *workflow.Session, graph *workflow.DependencyGraph) *workflow.Task {
	for _, t := range graph.Ready() {
		if sess.TaskStates[t.ID] == workflow.TaskStatePending {
			return t
		}
	}
	return nil
}

// priorOutputs collects the successful outputs recorded so far, keyed by
// task id, for prerequisite injection.
func priorOutputs(sess *workflow.Session) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	for _, r := range sess.Results {
		if r.Status == workflow.ResultStatusSuccess && len(r.Output) > 0 {
			out[r.TaskID] = r.Output
		}
	}
	return out
}

// recordResult appends the attempt's result. Results are append-only, so
// a retried task keeps its failed attempts' records alongside the final one.
func recordResult(s *workflow.Session, result workflow.WorkerResult) {
	s.Results = append(s.Results, result)
}

// recordDecision stores the latest decision for a task.
func recordDecision(s *workflow.Session, decision workflow.ReviewDecision) {
	for i := range s.Decisions {
		if s.Decisions[i].TaskID == decision.TaskID {
			s.Decisions[i] = decision
			return
		}
	}
	s.Decisions = append(s.Decisions, decision)
}

// failTask marks a task failed and skips every still-pending descendant.
func failTask(s *workflow.Session, taskID string) {
	s.TaskStates[taskID] = workflow.TaskStateFailed

	graph, err := workflow.NewDependencyGraph(s.Tasks)
	if err != nil {
		return
	}
	for _, desc := range graph.Descendants(taskID) {
		if s.TaskStates[desc] == workflow.TaskStatePending {
			s.TaskStates[desc] = workflow.TaskStateSkipped
		}
	}
}

// retryableKind reports whether a failure kind merits an orchestrator-level
// re-dispatch.
func retryableKind(kind string) bool {
	switch kind {
	case workflow.ErrKindTimeout, workflow.ErrKindRateLimited, workflow.ErrKindToolUnavailable:
		return true
	default:
		return false
	}
}
