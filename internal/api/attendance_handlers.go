package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/clockguard/internal/attendance"
	"github.com/onnwee/clockguard/internal/auth"
	"github.com/onnwee/clockguard/internal/device"
	"github.com/onnwee/clockguard/internal/idempotency"
	"github.com/onnwee/clockguard/internal/middleware"
	"github.com/onnwee/clockguard/internal/validate"
	"github.com/onnwee/clockguard/internal/verify"
)

// SubmitAttendanceRequest is the request body for check-in and check-out.
// Everything is optional evidence; a missing photo or fingerprint simply
// skips the corresponding check.
type SubmitAttendanceRequest struct {
	// OccurredAt defaults to now when omitted. RFC 3339 with offset; the
	// offset is treated as the submitter's local time.
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	// Photo is the base64-encoded evidence photo.
	Photo         string                  `json:"photo,omitempty"`
	CaptureMethod string                  `json:"capture_method,omitempty"`
	Fingerprint   *device.Payload         `json:"fingerprint,omitempty"`
	Geolocation   *attendance.Geolocation `json:"geolocation,omitempty"`
}

// SubmitAttendanceResponse is the response body for a recorded event.
type SubmitAttendanceResponse struct {
	EventID string            `json:"event_id"`
	Status  attendance.Status `json:"status"`
	Event   *attendance.Event `json:"event"`
}

// AttendanceHandlers holds dependencies for attendance HTTP handlers.
type AttendanceHandlers struct {
	recorder *attendance.Recorder
	idem     idempotency.Repository
}

// NewAttendanceHandlers creates a new AttendanceHandlers instance. idem may be
// nil to disable Idempotency-Key support.
func NewAttendanceHandlers(recorder *attendance.Recorder, idem idempotency.Repository) *AttendanceHandlers {
	return &AttendanceHandlers{recorder: recorder, idem: idem}
}

// CheckIn handles POST /attendance/check-in.
func (h *AttendanceHandlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, attendance.KindCheckIn)
}

// CheckOut handles POST /attendance/check-out.
func (h *AttendanceHandlers) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, attendance.KindCheckOut)
}

func (h *AttendanceHandlers) submit(w http.ResponseWriter, r *http.Request, kind attendance.Kind) {
	actorID := middleware.GetActorID(r.Context())
	if actorID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return
	}

	var req SubmitAttendanceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	// A retried submission carrying the same Idempotency-Key gets the
	// original response back instead of recording a second event. Keys are
	// scoped per actor so two users cannot collide.
	idemKey := r.Header.Get("Idempotency-Key")
	var scopedKey, requestHash string
	if h.idem != nil && idemKey != "" {
		if err := idempotency.ValidateKey(idemKey); err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		scopedKey = actorID + ":" + idemKey
		requestHash = idempotency.HashRequest(body)

		if stored, err := h.idem.Get(scopedKey); err == nil {
			if stored.RequestHash != requestHash {
				ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
				WriteError(w, ctx, http.StatusUnprocessableEntity, ErrCodeValidation, "Idempotency-Key reused with a different payload")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotency-Replay", "true")
			w.WriteHeader(stored.ResponseStatusCode)
			_, _ = w.Write([]byte(stored.ResponseBody))
			return
		}
	}

	var photo []byte
	if req.Photo != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Photo)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidPhoto)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidPhoto, "Photo must be base64 encoded")
			return
		}
		photo = decoded
	}

	input := attendance.SubmitInput{
		SubjectUserID: actorID,
		Kind:          kind,
		Evidence: attendance.Evidence{
			Photo:         photo,
			CaptureMethod: attendance.CaptureMethod(req.CaptureMethod),
			Fingerprint:   req.Fingerprint,
			SourceIP:      clientIP(r),
			Geolocation:   req.Geolocation,
		},
	}
	if req.OccurredAt != nil {
		input.OccurredAt = *req.OccurredAt
	}

	ev, err := h.recorder.Record(r.Context(), input)
	if err != nil {
		h.writeRecordError(w, r, err)
		return
	}

	resp := SubmitAttendanceResponse{
		EventID: ev.ID,
		Status:  ev.Status,
		Event:   ev,
	}

	if scopedKey != "" {
		if encoded, err := json.Marshal(resp); err == nil {
			// A concurrent retry may have stored the key first; the
			// stored response wins either way.
			_ = h.idem.Store(&idempotency.Key{
				Key:                scopedKey,
				Method:             r.Method,
				Route:              r.URL.Path,
				RequestHash:        requestHash,
				EventID:            ev.ID,
				ResponseStatusCode: http.StatusCreated,
				ResponseBody:       string(encoded),
			})
		}
	}

	WriteJSON(w, http.StatusCreated, resp)
}

func (h *AttendanceHandlers) writeRecordError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, attendance.ErrInvalidKind), errors.Is(err, attendance.ErrInvalidCaptureMethod):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidKind)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidKind, err.Error())
	case errors.Is(err, verify.ErrPhotoTooSmall), errors.Is(err, verify.ErrPhotoTooLarge):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidPhoto)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidPhoto, err.Error())
	default:
		// Primary write failure; the caller may retry.
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeStoreUnavailable)
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "Failed to record attendance event, please retry")
	}
}

// ListEvents handles GET /attendance. Subjects see their own events; the
// oversight role may query any subject via ?user_id=.
func (h *AttendanceHandlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r.Context())
	if actorID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	subject := actorID
	if requested := r.URL.Query().Get("user_id"); requested != "" && requested != actorID {
		if middleware.GetActorRole(r.Context()) != auth.RoleOversight {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
			WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Only the oversight role may view other users' events")
			return
		}
		cleaned, err := validate.UserID(requested)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Invalid user_id")
			return
		}
		subject = cleaned
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

	events, err := h.recorder.ListEvents(r.Context(), subject, limit)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list events")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GetEvent handles GET /attendance/{id}.
func (h *AttendanceHandlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r.Context())
	if actorID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	ev, err := h.recorder.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, attendance.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Event not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load event")
		return
	}

	// Read access is owner-or-oversight.
	if ev.SubjectUserID != actorID && middleware.GetActorRole(r.Context()) != auth.RoleOversight {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Not your event")
		return
	}

	WriteJSON(w, http.StatusOK, ev)
}

// clientIP extracts the submitting address, preferring X-Forwarded-For when
// a proxy set it.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
