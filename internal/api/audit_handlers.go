package api

import (
	"net/http"
	"strconv"

	"github.com/onnwee/clockguard/internal/audit"
	"github.com/onnwee/clockguard/internal/middleware"
)

// AuditHandlers holds dependencies for audit trail HTTP handlers.
// All audit routes are restricted to the oversight role.
type AuditHandlers struct {
	repo audit.Repository
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(repo audit.Repository) *AuditHandlers {
	return &AuditHandlers{repo: repo}
}

// Query handles GET /audit. Filter by entity (?entity_type=&entity_id=) or
// by actor (?actor_id=); exactly one filter is required, newest first.
func (h *AuditHandlers) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityType := q.Get("entity_type")
	entityID := q.Get("entity_id")
	actorID := q.Get("actor_id")

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	byEntity := entityType != "" && entityID != ""
	byActor := actorID != ""
	if byEntity == byActor {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Provide either entity_type+entity_id or actor_id")
		return
	}

	var (
		entries []*audit.Entry
		err     error
	)
	if byEntity {
		entries, err = h.repo.QueryByEntity(r.Context(), entityType, entityID, limit)
	} else {
		entries, err = h.repo.QueryByActor(r.Context(), actorID, limit)
	}
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to query audit trail")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
