// Package api exposes the orchestration surface over HTTP: goal
// submission, session inspection, and human review resolution.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/taskforge-ai/taskforge/store"
	"github.com/taskforge-ai/taskforge/workflow"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// Service is the orchestration surface the handlers call into.
type Service interface {
	SubmitGoal(ctx context.Context, goal string, goalContext map[string]string, constraints []string) (*workflow.Session, error)
	GetSession(ctx context.Context, id string) (*workflow.Session, error)
	ExtendRetention(ctx context.Context, sessionID string) error
	ListPendingReviews(ctx context.Context) ([]*workflow.ReviewItem, error)
	GetReview(ctx context.Context, id string) (*workflow.ReviewItem, error)
	ResolveReview(ctx context.Context, reviewID string, approve bool, notes string) (*workflow.ReviewItem, bool, error)
}

// Handler serves the workflow HTTP API.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler creates a handler over the given service.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterHTTPHandlers registers all API handlers under the given prefix.
// The prefix should be the path segment without a trailing slash
// (e.g. "api/v1"). Handlers are registered as:
//
//	POST <prefix>/sessions
//	GET  <prefix>/sessions/{id}
//	GET  <prefix>/sessions/{id}/status
//	POST <prefix>/sessions/{id}/extend
//	GET  <prefix>/reviews
//	GET  <prefix>/reviews/{id}
//	POST <prefix>/reviews/{id}/approve
//	POST <prefix>/reviews/{id}/reject
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc(prefix+"/sessions", h.handleSubmit)
	mux.HandleFunc(prefix+"/sessions/", h.handleSession)
	mux.HandleFunc(prefix+"/reviews", h.handleListReviews)
	mux.HandleFunc(prefix+"/reviews/", h.handleReview)
}

// ----------------------------------------------------------------------------
// POST /sessions
// ----------------------------------------------------------------------------

// SubmitRequest is the request body for POST /sessions.
type SubmitRequest struct {
	// Goal is the natural-language objective, 10 to 500 characters.
	Goal string `json:"goal"`

	// Context carries optional key/value hints for planning.
	Context map[string]string `json:"context,omitempty"`

	// Constraints lists optional restrictions the plan must honor.
	Constraints []string `json:"constraints,omitempty"`
}

// handleSubmit creates a session and starts it.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := h.svc.SubmitGoal(r.Context(), req.Goal, req.Context, req.Constraints)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("session submitted via API", "session_id", sess.ID)
	writeJSON(w, http.StatusAccepted, sess)
}

// ----------------------------------------------------------------------------
// GET /sessions/{id}[/status], POST /sessions/{id}/extend
// ----------------------------------------------------------------------------

// StatusResponse is the response body for GET /sessions/{id}/status.
type StatusResponse struct {
	SessionID string                 `json:"session_id"`
	Status    workflow.SessionStatus `json:"status"`
	Progress  workflow.Progress      `json:"progress"`
}

// handleSession routes /sessions/{id} and its sub-endpoints.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	id, endpoint := extractIDAndEndpoint(r.URL.Path, "/sessions/")
	if id == "" {
		http.Error(w, "Session id required", http.StatusBadRequest)
		return
	}

	switch endpoint {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.getSession(w, r, id)

	case "status":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.getStatus(w, r, id)

	case "extend":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.extendSession(w, r, id)

	default:
		http.Error(w, "Unknown endpoint", http.StatusNotFound)
	}
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err, "session", id)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err, "session", id)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		SessionID: sess.ID,
		Status:    sess.Status,
		Progress:  sess.Progress(),
	})
}

func (h *Handler) extendSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.ExtendRetention(r.Context(), id); err != nil {
		h.writeLookupError(w, err, "session", id)
		return
	}
	h.logger.Info("session retention extended", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ----------------------------------------------------------------------------
// GET /reviews
// ----------------------------------------------------------------------------

// ReviewListResponse is the response body for GET /reviews.
type ReviewListResponse struct {
	Reviews []*workflow.ReviewItem `json:"reviews"`
}

// handleListReviews returns all reviews awaiting a human.
func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items, err := h.svc.ListPendingReviews(r.Context())
	if err != nil {
		h.logger.Error("failed to list pending reviews", "error", err)
		http.Error(w, "Failed to list reviews", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*workflow.ReviewItem{}
	}

	writeJSON(w, http.StatusOK, ReviewListResponse{Reviews: items})
}

// ----------------------------------------------------------------------------
// GET /reviews/{id}, POST /reviews/{id}/approve, POST /reviews/{id}/reject
// ----------------------------------------------------------------------------

// ResolveRequest is the request body for the approve and reject endpoints.
type ResolveRequest struct {
	// Notes is an optional reviewer comment stored on the review item.
	Notes string `json:"notes,omitempty"`
}

// ResolveResponse is the response body for the approve and reject
// endpoints. SessionResumed reports whether the verdict unblocked the
// session and execution picked back up.
type ResolveResponse struct {
	Review         *workflow.ReviewItem `json:"review"`
	SessionResumed bool                 `json:"session_resumed"`
}

// handleReview routes /reviews/{id} and its sub-endpoints.
func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id, endpoint := extractIDAndEndpoint(r.URL.Path, "/reviews/")
	if id == "" {
		http.Error(w, "Review id required", http.StatusBadRequest)
		return
	}

	switch endpoint {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		item, err := h.svc.GetReview(r.Context(), id)
		if err != nil {
			h.writeLookupError(w, err, "review", id)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case "approve":
		h.resolveReview(w, r, id, true)

	case "reject":
		h.resolveReview(w, r, id, false)

	default:
		http.Error(w, "Unknown endpoint", http.StatusNotFound)
	}
}

func (h *Handler) resolveReview(w http.ResponseWriter, r *http.Request, id string, approve bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	// An empty body is fine, notes are optional.
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item, resumed, err := h.svc.ResolveReview(r.Context(), id, approve, req.Notes)
	if err != nil {
		h.writeLookupError(w, err, "review", id)
		return
	}

	h.logger.Info("review resolved via API",
		"review_id", id,
		"approve", approve,
		"status", item.Status,
		"session_resumed", resumed)
	writeJSON(w, http.StatusOK, ResolveResponse{Review: item, SessionResumed: resumed})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// writeLookupError maps store errors to HTTP status codes.
func (h *Handler) writeLookupError(w http.ResponseWriter, err error, kind, id string) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, kind+" not found: "+id, http.StatusNotFound)
		return
	}
	h.logger.Error("lookup failed", "kind", kind, "id", id, "error", err)
	http.Error(w, "Failed to retrieve "+kind, http.StatusInternalServerError)
}

// extractIDAndEndpoint extracts the id and trailing endpoint from a path
// like /api/v1/sessions/{id}/status.
func extractIDAndEndpoint(path, segment string) (id, endpoint string) {
	idx := strings.Index(path, segment)
	if idx == -1 {
		return "", ""
	}

	remainder := path[idx+len(segment):]
	parts := strings.SplitN(remainder, "/", 2)
	if len(parts) == 0 {
		return "", ""
	}

	id = parts[0]
	if len(parts) > 1 {
		endpoint = strings.TrimSuffix(parts[1], "/")
	}
	return id, endpoint
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; nothing useful to do.
		_ = err
	}
}
