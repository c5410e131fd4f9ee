package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/onnwee/clockguard/internal/anomaly"
	"github.com/onnwee/clockguard/internal/middleware"
	"github.com/onnwee/clockguard/internal/validate"
)

// ResolveAnomalyRequest is the request body for resolving an anomaly.
type ResolveAnomalyRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note,omitempty"`
}

// AnomalyHandlers holds dependencies for anomaly HTTP handlers.
type AnomalyHandlers struct {
	review *anomaly.ReviewService
	repo   anomaly.Repository
}

// NewAnomalyHandlers creates a new AnomalyHandlers instance.
func NewAnomalyHandlers(review *anomaly.ReviewService, repo anomaly.Repository) *AnomalyHandlers {
	return &AnomalyHandlers{review: review, repo: repo}
}

// Resolve handles POST /anomalies/{id}/resolve. Restricted to the oversight
// role by the route middleware; the review service asserts it again.
func (h *AnomalyHandlers) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveAnomalyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	note, err := validate.ResolutionNote(req.Note)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Note must be at most 2000 characters")
		return
	}

	resolved, err := h.review.Resolve(r.Context(), r.PathValue("id"),
		middleware.GetActorID(r.Context()), middleware.GetActorRole(r.Context()),
		anomaly.Status(req.Outcome), note)
	if err != nil {
		h.writeResolveError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, resolved)
}

func (h *AnomalyHandlers) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, anomaly.ErrNotOversight):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Only the oversight role may resolve anomalies")
	case errors.Is(err, anomaly.ErrInvalidOutcome):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidOutcome)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidOutcome, "Outcome must be RESOLVED, FALSE_POSITIVE, or IGNORED")
	case errors.Is(err, anomaly.ErrAlreadyResolved):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAlreadyResolved)
		WriteError(w, ctx, http.StatusConflict, ErrCodeAlreadyResolved, "Anomaly is no longer pending")
	case errors.Is(err, anomaly.ErrNotFound):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Anomaly not found")
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to resolve anomaly")
	}
}

// List handles GET /anomalies?status=. Restricted to the oversight role by
// the route middleware. Defaults to PENDING, the review queue.
func (h *AnomalyHandlers) List(w http.ResponseWriter, r *http.Request) {
	status := anomaly.StatusPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = anomaly.Status(raw)
		if status != anomaly.StatusPending && !anomaly.TerminalStatus(status) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Unknown anomaly status")
			return
		}
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	anomalies, err := h.repo.ListByStatus(r.Context(), status, limit)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list anomalies")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"anomalies": anomalies})
}

// Get handles GET /anomalies/{id}. Restricted to the oversight role.
func (h *AnomalyHandlers) Get(w http.ResponseWriter, r *http.Request) {
	an, err := h.repo.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, anomaly.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Anomaly not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load anomaly")
		return
	}
	WriteJSON(w, http.StatusOK, an)
}
