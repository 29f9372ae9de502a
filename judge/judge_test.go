package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/workflow"
)

type fakeCompleter struct {
	response string
	err      error
	lastReq  llm.Request
}

func (f *fakeCompleter) CompleteJSON(_ context.Context, req llm.Request, out any) (*llm.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if err := json.Unmarshal([]byte(f.response), out); err != nil {
		return nil, err
	}
	return &llm.Response{Content: f.response, Model: "fake-model"}, nil
}

func scoresJSON(format, completeness, relevance float64) string {
	return fmt.Sprintf(
		`{"format": %v, "completeness": %v, "relevance": %v, "reasoning": "assessed against guidelines"}`,
		format, completeness, relevance)
}

func successResult() workflow.WorkerResult {
	return workflow.WorkerResult{
		TaskID:           "fetch",
		Status:           workflow.ResultStatusSuccess,
		Output:           json.RawMessage(`{"pages": 12}`),
		ExecutionSeconds: 1.2,
		Timestamp:        time.Now().UTC(),
	}
}

func testTask() workflow.Task {
	return workflow.Task{
		ID:             "fetch",
		Kind:           workflow.TaskKindRemoteCall,
		Description:    "fetch the report",
		ToolName:       "document_fetcher",
		TimeoutSeconds: 30,
	}
}

const guidelines = "summarize the quarterly report accurately"

func TestAssessWeightedConfidence(t *testing.T) {
	f := &fakeCompleter{response: scoresJSON(1.0, 0.8, 0.5)}
	j := New(f)

	decision, err := j.Assess(context.Background(), testTask(), successResult(), guidelines)

	require.NoError(t, err)
	// 0.3*1.0 + 0.3*0.8 + 0.4*0.5 = 0.74
	assert.InDelta(t, 0.74, decision.Confidence, 1e-9)
	assert.Equal(t, 1.0, decision.QualityMetrics["format"])
	assert.Equal(t, 0.8, decision.QualityMetrics["completeness"])
	assert.Equal(t, 0.5, decision.QualityMetrics["relevance"])
	require.NoError(t, decision.Validate())
}

func TestAssessGating(t *testing.T) {
	tests := []struct {
		name            string
		format          float64
		completeness    float64
		relevance       float64
		wantApproved    bool
		wantHumanReview bool
	}{
		{"high confidence auto-approves", 1.0, 0.95, 0.95, true, false},
		{"low confidence auto-rejects", 0.5, 0.4, 0.3, false, false},
		{"band requires human review", 1.0, 0.8, 0.7, false, true},
		{"lower band edge requires human review", 0.75, 0.75, 0.75, false, true},
		{"upper band edge requires human review", 0.88, 0.88, 0.88, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCompleter{response: scoresJSON(tt.format, tt.completeness, tt.relevance)}
			j := New(f)

			decision, err := j.Assess(context.Background(), testTask(), successResult(), guidelines)

			require.NoError(t, err)
			assert.Equal(t, tt.wantApproved, decision.Approved)
			assert.Equal(t, tt.wantHumanReview, decision.RequiresHumanReview)
			require.NoError(t, decision.Validate())
		})
	}
}

func TestAssessBoundaryArithmetic(t *testing.T) {
	// Equal sub-scores collapse to that score exactly; the weights sum to 1.
	assert.InDelta(t, 1.0, WeightFormat+WeightCompleteness+WeightRelevance, 1e-12)

	for _, s := range []float64{0.0, 0.7, 0.9, 1.0} {
		got := WeightFormat*s + WeightCompleteness*s + WeightRelevance*s
		assert.True(t, math.Abs(got-s) < 1e-9)
	}
}

func TestAssessMissingGuidelines(t *testing.T) {
	j := New(&fakeCompleter{response: scoresJSON(1, 1, 1)})

	_, err := j.Assess(context.Background(), testTask(), successResult(), "")

	var jerr *Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, ErrKindMissingGuidelines, jerr.Kind)
}

func TestAssessNonSuccessResult(t *testing.T) {
	j := New(&fakeCompleter{response: scoresJSON(1, 1, 1)})

	result := workflow.WorkerResult{
		TaskID:    "fetch",
		Status:    workflow.ResultStatusFailure,
		Error:     "boom",
		ErrorKind: workflow.ErrKindInternal,
	}

	_, err := j.Assess(context.Background(), testTask(), result, guidelines)

	var jerr *Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, ErrKindInvalidContent, jerr.Kind)
}

func TestAssessNonJSONOutput(t *testing.T) {
	j := New(&fakeCompleter{response: scoresJSON(1, 1, 1)})

	result := successResult()
	result.Output = json.RawMessage(`not json at all`)

	_, err := j.Assess(context.Background(), testTask(), result, guidelines)

	var jerr *Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, ErrKindUnsupportedContent, jerr.Kind)
}

func TestAssessScoreOutOfRange(t *testing.T) {
	j := New(&fakeCompleter{response: scoresJSON(1.5, 0.8, 0.8)})

	_, err := j.Assess(context.Background(), testTask(), successResult(), guidelines)

	var jerr *Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, ErrKindScoringFailure, jerr.Kind)
}

func TestAssessMissingReasoning(t *testing.T) {
	j := New(&fakeCompleter{response: `{"format": 0.9, "completeness": 0.9, "relevance": 0.9, "reasoning": ""}`})

	_, err := j.Assess(context.Background(), testTask(), successResult(), guidelines)

	var jerr *Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, ErrKindScoringFailure, jerr.Kind)
}

func TestAssessLLMFailure(t *testing.T) {
	j := New(&fakeCompleter{err: fmt.Errorf("all endpoints failed")})

	_, err := j.Assess(context.Background(), testTask(), successResult(), guidelines)

	var jerr *Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, ErrKindScoringFailure, jerr.Kind)
}

func TestAssessPromptContents(t *testing.T) {
	f := &fakeCompleter{response: scoresJSON(0.9, 0.9, 0.9)}
	j := New(f)

	_, err := j.Assess(context.Background(), testTask(), successResult(), guidelines)
	require.NoError(t, err)

	user := f.lastReq.Messages[1].Content
	assert.Contains(t, user, "fetch the report")
	assert.Contains(t, user, guidelines)
	assert.Contains(t, user, `"pages"`)
}
