// Package planner turns a session goal into a validated, acyclic task list.
package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/workflow"
)

// Default bounds applied when the model omits optional task fields.
const (
	DefaultMaxTasks       = 10
	DefaultTimeoutSeconds = 60
	DefaultRetryLimit     = 1
)

// Plan error kinds surfaced to callers via *Error.
const (
	ErrKindGoalTooVague       = "goal_too_vague"
	ErrKindNoViablePlan       = "no_viable_plan"
	ErrKindCircularDependency = "circular_dependency"
	ErrKindCapabilityMissing  = "capability_missing"
	ErrKindInvalidPlan        = "invalid_plan"
)

// Error is a planning failure with a machine-readable kind.
type Error struct {
	Kind   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("planning failed (%s): %s", e.Kind, e.Reason)
}

// completer is the subset of the LLM client the planner uses.
// Defined as an interface for testability.
type completer interface {
	CompleteJSON(ctx context.Context, req llm.Request, out any) (*llm.Response, error)
}

// toolCatalog is the subset of the tool registry the planner consults.
type toolCatalog interface {
	Has(name string) bool
	Names() []string
}

// Request carries the planning inputs.
type Request struct {
	Goal        string
	Context     map[string]string
	Constraints []string
}

// Result is a validated plan.
type Result struct {
	Tasks            []workflow.Task
	Reasoning        string
	EstimatedMinutes int
	Confidence       float64
}

// Planner produces task lists from goals via an LLM.
type Planner struct {
	llm      completer
	tools    toolCatalog
	maxTasks int
	logger   *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithMaxTasks overrides the task count cap.
func WithMaxTasks(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxTasks = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// New creates a planner over the given LLM client and tool catalog.
func New(llmClient completer, tools toolCatalog, opts ...Option) *Planner {
	p := &Planner{
		llm:      llmClient,
		tools:    tools,
		maxTasks: DefaultMaxTasks,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// planResponse is the wire shape the model produces.
type planResponse struct {
	Tasks []struct {
		ID             string         `json:"id"`
		Kind           string         `json:"kind"`
		Description    string         `json:"description"`
		ToolName       string         `json:"tool_name"`
		Parameters     map[string]any `json:"parameters"`
		TimeoutSeconds int            `json:"timeout_seconds"`
		RetryLimit     *int           `json:"retry_limit"`
		DependsOn      []string       `json:"depends_on"`
	} `json:"tasks"`
	Reasoning        string  `json:"reasoning"`
	EstimatedMinutes int     `json:"estimated_minutes"`
	Confidence       float64 `json:"confidence"`

	// Refusal is set instead of tasks when the model declines to plan.
	Refusal string `json:"refusal"`
	Reason  string `json:"reason"`
}

// Plan generates and validates a task list for the goal. Validation
// failures the model cannot be blamed for (unknown tools, cycles, bounds)
// surface as *Error with a specific kind.
func (p *Planner) Plan(ctx context.Context, req Request) (*Result, error) {
	if len(req.Goal) < workflow.MinGoalLength || len(req.Goal) > workflow.MaxGoalLength {
		return nil, &Error{
			Kind:   ErrKindGoalTooVague,
			Reason: fmt.Sprintf("goal must be %d-%d characters", workflow.MinGoalLength, workflow.MaxGoalLength),
		}
	}

	temperature := 0.7
	var resp planResponse
	llmResp, err := p.llm.CompleteJSON(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: SystemPrompt(p.maxTasks)},
			{Role: "user", Content: UserPrompt(req.Goal, req.Context, req.Constraints, p.tools.Names())},
		},
		Temperature: &temperature,
		MaxTokens:   4096,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("plan completion: %w", err)
	}

	p.logger.Debug("plan response received",
		"model", llmResp.Model,
		"tasks", len(resp.Tasks),
		"refusal", resp.Refusal)

	if resp.Refusal != "" {
		return nil, refusalError(resp.Refusal, resp.Reason)
	}

	return p.validate(resp)
}

func refusalError(refusal, reason string) *Error {
	kind := refusal
	switch kind {
	case ErrKindGoalTooVague, ErrKindNoViablePlan, ErrKindCapabilityMissing:
	default:
		kind = ErrKindNoViablePlan
	}
	if reason == "" {
		reason = "model declined to produce a plan"
	}
	return &Error{Kind: kind, Reason: reason}
}

// validate converts the wire plan into domain tasks, applying defaults and
// enforcing every structural invariant.
func (p *Planner) validate(resp planResponse) (*Result, error) {
	if len(resp.Tasks) == 0 {
		return nil, &Error{Kind: ErrKindNoViablePlan, Reason: "plan contains no tasks"}
	}
	if len(resp.Tasks) > p.maxTasks {
		return nil, &Error{
			Kind:   ErrKindInvalidPlan,
			Reason: fmt.Sprintf("plan has %d tasks, cap is %d", len(resp.Tasks), p.maxTasks),
		}
	}

	tasks := make([]workflow.Task, 0, len(resp.Tasks))
	for i, t := range resp.Tasks {
		task := workflow.Task{
			ID:             t.ID,
			Kind:           workflow.TaskKind(t.Kind),
			Description:    t.Description,
			ToolName:       t.ToolName,
			Parameters:     t.Parameters,
			TimeoutSeconds: t.TimeoutSeconds,
			RetryLimit:     DefaultRetryLimit,
			DependsOn:      t.DependsOn,
		}
		if task.ID == "" {
			task.ID = fmt.Sprintf("task-%d", i+1)
		}
		if task.TimeoutSeconds == 0 {
			task.TimeoutSeconds = DefaultTimeoutSeconds
		}
		if t.RetryLimit != nil {
			task.RetryLimit = *t.RetryLimit
		}

		if err := task.Validate(); err != nil {
			return nil, &Error{Kind: ErrKindInvalidPlan, Reason: err.Error()}
		}

		if task.Kind == workflow.TaskKindRemoteCall && !p.tools.Has(task.ToolName) {
			return nil, &Error{
				Kind:   ErrKindCapabilityMissing,
				Reason: fmt.Sprintf("task %s requires unknown tool %s", task.ID, task.ToolName),
			}
		}

		tasks = append(tasks, task)
	}

	// Duplicate ids and dangling references are structural defects; only a
	// genuine cycle gets the circular_dependency kind.
	seen := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if seen[task.ID] {
			return nil, &Error{Kind: ErrKindInvalidPlan, Reason: fmt.Sprintf("duplicate task id %s", task.ID)}
		}
		seen[task.ID] = true
	}
	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if !seen[dep] {
				return nil, &Error{
					Kind:   ErrKindInvalidPlan,
					Reason: fmt.Sprintf("task %s depends on unknown task %s", task.ID, dep),
				}
			}
		}
	}

	if _, err := workflow.NewDependencyGraph(tasks); err != nil {
		return nil, &Error{Kind: ErrKindCircularDependency, Reason: err.Error()}
	}

	confidence := resp.Confidence
	if confidence < 0 || confidence > 1 {
		confidence = 0
	}

	return &Result{
		Tasks:            tasks,
		Reasoning:        resp.Reasoning,
		EstimatedMinutes: resp.EstimatedMinutes,
		Confidence:       confidence,
	}, nil
}
