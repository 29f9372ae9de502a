package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge-ai/taskforge/store"
	"github.com/taskforge-ai/taskforge/workflow"
)

type fakeService struct {
	sessions map[string]*workflow.Session
	reviews  map[string]*workflow.ReviewItem

	submitErr error
	extended  []string
	resolved  map[string]bool
}

func newFakeService() *fakeService {
	return &fakeService{
		sessions: make(map[string]*workflow.Session),
		reviews:  make(map[string]*workflow.ReviewItem),
		resolved: make(map[string]bool),
	}
}

func (f *fakeService) SubmitGoal(_ context.Context, goal string, goalContext map[string]string, constraints []string) (*workflow.Session, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	sess := workflow.NewSession(goal, goalContext, constraints)
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeService) GetSession(_ context.Context, id string) (*workflow.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return sess, nil
}

func (f *fakeService) ExtendRetention(_ context.Context, sessionID string) error {
	if _, ok := f.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	f.extended = append(f.extended, sessionID)
	return nil
}

func (f *fakeService) ListPendingReviews(_ context.Context) ([]*workflow.ReviewItem, error) {
	var out []*workflow.ReviewItem
	for _, item := range f.reviews {
		if item.Status == workflow.ReviewStatusPending {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeService) GetReview(_ context.Context, id string) (*workflow.ReviewItem, error) {
	item, ok := f.reviews[id]
	if !ok {
		return nil, fmt.Errorf("review %s: %w", id, store.ErrNotFound)
	}
	return item, nil
}

func (f *fakeService) ResolveReview(_ context.Context, reviewID string, approve bool, notes string) (*workflow.ReviewItem, bool, error) {
	item, ok := f.reviews[reviewID]
	if !ok {
		return nil, false, fmt.Errorf("review %s: %w", reviewID, store.ErrNotFound)
	}
	status := workflow.ReviewStatusRejected
	if approve {
		status = workflow.ReviewStatusApproved
	}
	changed, err := item.Resolve(status, notes)
	if err != nil {
		return nil, false, err
	}
	f.resolved[reviewID] = approve
	return item, changed && approve, nil
}

func newTestHandler(svc Service) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.RegisterHTTPHandlers("api/v1", mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func seedReview(f *fakeService, sessionID string) *workflow.ReviewItem {
	result := workflow.WorkerResult{
		TaskID: "task-1",
		Status: workflow.ResultStatusSuccess,
		Output: json.RawMessage(`{"ok":true}`),
	}
	decision := workflow.ReviewDecision{
		TaskID:              "task-1",
		Confidence:          0.8,
		RequiresHumanReview: true,
		Reasoning:           "borderline output",
	}
	item := workflow.NewReviewItem(sessionID, result, decision, time.Hour)
	f.reviews[item.ID] = item
	return item
}

func TestSubmitSession(t *testing.T) {
	f := newFakeService()
	mux := newTestHandler(f)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/sessions", SubmitRequest{
		Goal: "collect the weekly error budget report for the payments service",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)

	var sess workflow.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, workflow.SessionStatusPlanning, sess.Status)
	assert.Contains(t, f.sessions, sess.ID)
}

func TestSubmitSessionRejectsShortGoal(t *testing.T) {
	mux := newTestHandler(newFakeService())

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/sessions", SubmitRequest{Goal: "too short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitSessionRejectsBadBody(t *testing.T) {
	mux := newTestHandler(newFakeService())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitSessionMethodNotAllowed(t *testing.T) {
	mux := newTestHandler(newFakeService())

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetSession(t *testing.T) {
	f := newFakeService()
	sess := workflow.NewSession("collect the weekly error budget report now", nil, nil)
	f.sessions[sess.ID] = sess
	mux := newTestHandler(f)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got workflow.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, sess.ID, got.ID)
}

func TestGetSessionNotFound(t *testing.T) {
	mux := newTestHandler(newFakeService())

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/sessions/sess-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSessionStatus(t *testing.T) {
	f := newFakeService()
	sess := workflow.NewSession("collect the weekly error budget report now", nil, nil)
	sess.Tasks = []workflow.Task{{ID: "a"}, {ID: "b"}}
	sess.TaskStates = map[string]workflow.TaskState{
		"a": workflow.TaskStateSucceeded,
		"b": workflow.TaskStatePending,
	}
	f.sessions[sess.ID] = sess
	mux := newTestHandler(f)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, sess.ID, got.SessionID)
	assert.Equal(t, 2, got.Progress.TotalTasks)
	assert.Equal(t, 1, got.Progress.Succeeded)
	assert.Equal(t, 1, got.Progress.Pending)
}

func TestExtendSessionRetention(t *testing.T) {
	f := newFakeService()
	sess := workflow.NewSession("collect the weekly error budget report now", nil, nil)
	f.sessions[sess.ID] = sess
	mux := newTestHandler(f)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/extend", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{sess.ID}, f.extended)
}

func TestUnknownSessionEndpoint(t *testing.T) {
	f := newFakeService()
	sess := workflow.NewSession("collect the weekly error budget report now", nil, nil)
	f.sessions[sess.ID] = sess
	mux := newTestHandler(f)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/bogus", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPendingReviews(t *testing.T) {
	f := newFakeService()
	item := seedReview(f, "sess-1")
	mux := newTestHandler(f)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/reviews", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got ReviewListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Reviews, 1)
	assert.Equal(t, item.ID, got.Reviews[0].ID)
}

func TestListPendingReviewsEmpty(t *testing.T) {
	mux := newTestHandler(newFakeService())

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/reviews", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reviews":[]}`, rec.Body.String())
}

func TestGetReview(t *testing.T) {
	f := newFakeService()
	item := seedReview(f, "sess-1")
	mux := newTestHandler(f)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/reviews/"+item.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got workflow.ReviewItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, workflow.ReviewStatusPending, got.Status)
}

func TestApproveReview(t *testing.T) {
	f := newFakeService()
	item := seedReview(f, "sess-1")
	mux := newTestHandler(f)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/reviews/"+item.ID+"/approve", ResolveRequest{Notes: "output verified"})
	require.Equal(t, http.StatusOK, rec.Code)

	var got ResolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, workflow.ReviewStatusApproved, got.Review.Status)
	assert.Equal(t, "output verified", got.Review.ReviewerNotes)
	assert.True(t, got.SessionResumed)
	assert.True(t, f.resolved[item.ID])
}

func TestRejectReviewWithoutBody(t *testing.T) {
	f := newFakeService()
	item := seedReview(f, "sess-1")
	mux := newTestHandler(f)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/reviews/"+item.ID+"/reject", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got ResolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, workflow.ReviewStatusRejected, got.Review.Status)
	assert.False(t, got.SessionResumed)
	assert.False(t, f.resolved[item.ID])
}

func TestResolveReviewNotFound(t *testing.T) {
	mux := newTestHandler(newFakeService())

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/reviews/rev-missing/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveReviewMethodNotAllowed(t *testing.T) {
	f := newFakeService()
	item := seedReview(f, "sess-1")
	mux := newTestHandler(f)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/reviews/"+item.ID+"/approve", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
