// Package judge scores worker results and gates them into auto-approval,
// auto-rejection, or human review.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/workflow"
)

// Sub-score weights. Fixed alongside the confidence gates; together they
// define the review contract.
const (
	WeightFormat       = 0.3
	WeightCompleteness = 0.3
	WeightRelevance    = 0.4
)

// Assessment error kinds surfaced via *Error.
const (
	ErrKindUnsupportedContent = "unsupported_content"
	ErrKindMissingGuidelines  = "missing_guidelines"
	ErrKindInvalidContent     = "invalid_content"
	ErrKindScoringFailure     = "scoring_failure"
)

// Error is an assessment failure with a machine-readable kind.
type Error struct {
	Kind   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("assessment failed (%s): %s", e.Kind, e.Reason)
}

// completer is the subset of the LLM client the judge uses.
type completer interface {
	CompleteJSON(ctx context.Context, req llm.Request, out any) (*llm.Response, error)
}

// Judge assesses worker results against guidelines.
type Judge struct {
	llm    completer
	logger *slog.Logger
}

// Option configures a Judge.
type Option func(*Judge)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Judge) {
		j.logger = logger
	}
}

// New creates a judge over the given LLM client.
func New(llmClient completer, opts ...Option) *Judge {
	j := &Judge{
		llm:    llmClient,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// scoreResponse is the wire shape the model produces.
type scoreResponse struct {
	Format          float64 `json:"format"`
	Completeness    float64 `json:"completeness"`
	Relevance       float64 `json:"relevance"`
	Reasoning       string  `json:"reasoning"`
	SuggestedAction string  `json:"suggested_action"`
}

// Assess scores a successful worker result and returns the gated decision.
// The confidence is a weighted combination of the model's sub-scores; the
// approve/reject/human-review routing is applied here, never by the model.
func (j *Judge) Assess(ctx context.Context, task workflow.Task, result workflow.WorkerResult, guidelines string) (workflow.ReviewDecision, error) {
	var zero workflow.ReviewDecision

	if guidelines == "" {
		return zero, &Error{Kind: ErrKindMissingGuidelines, Reason: "assessment guidelines are required"}
	}
	if result.Status != workflow.ResultStatusSuccess {
		return zero, &Error{
			Kind:   ErrKindInvalidContent,
			Reason: fmt.Sprintf("only successful results are assessable, got status %s", result.Status),
		}
	}
	if len(result.Output) == 0 || !json.Valid(result.Output) {
		return zero, &Error{Kind: ErrKindUnsupportedContent, Reason: "result output is not a JSON document"}
	}

	temperature := 0.0
	var scores scoreResponse
	llmResp, err := j.llm.CompleteJSON(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: assessmentPrompt(task, result, guidelines)},
		},
		Temperature: &temperature,
		MaxTokens:   2048,
	}, &scores)
	if err != nil {
		return zero, &Error{Kind: ErrKindScoringFailure, Reason: err.Error()}
	}

	for name, score := range map[string]float64{
		"format":       scores.Format,
		"completeness": scores.Completeness,
		"relevance":    scores.Relevance,
	} {
		if score < 0 || score > 1 {
			return zero, &Error{
				Kind:   ErrKindScoringFailure,
				Reason: fmt.Sprintf("%s score %v outside [0, 1]", name, score),
			}
		}
	}
	if scores.Reasoning == "" {
		return zero, &Error{Kind: ErrKindScoringFailure, Reason: "assessment carries no reasoning"}
	}

	confidence := WeightFormat*scores.Format +
		WeightCompleteness*scores.Completeness +
		WeightRelevance*scores.Relevance

	gate := workflow.GateForConfidence(confidence)

	decision := workflow.ReviewDecision{
		TaskID:              task.ID,
		Approved:            gate == workflow.GateAutoApprove,
		Confidence:          confidence,
		RequiresHumanReview: gate == workflow.GateHumanReview,
		Reasoning:           scores.Reasoning,
		QualityMetrics: map[string]float64{
			"format":       scores.Format,
			"completeness": scores.Completeness,
			"relevance":    scores.Relevance,
		},
		SuggestedAction: scores.SuggestedAction,
	}

	j.logger.Debug("result assessed",
		"task_id", task.ID,
		"model", llmResp.Model,
		"confidence", confidence,
		"gate", gate)

	return decision, nil
}
