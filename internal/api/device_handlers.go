package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/onnwee/clockguard/internal/device"
	"github.com/onnwee/clockguard/internal/middleware"
)

// DeviceHandlers holds dependencies for device HTTP handlers.
type DeviceHandlers struct {
	registry *device.Registry
}

// NewDeviceHandlers creates a new DeviceHandlers instance.
func NewDeviceHandlers(registry *device.Registry) *DeviceHandlers {
	return &DeviceHandlers{registry: registry}
}

// List handles GET /devices - the caller's registered devices.
func (h *DeviceHandlers) List(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r.Context())
	if actorID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	devices, err := h.registry.List(r.Context(), actorID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list devices")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// Trust handles POST /devices/{id}/trust.
func (h *DeviceHandlers) Trust(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.registry.Trust)
}

// Revoke handles POST /devices/{id}/revoke.
func (h *DeviceHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.registry.Revoke)
}

// Delete handles DELETE /devices/{id}.
func (h *DeviceHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.registry.Delete)
}

// ownerAction runs one owner-scoped registry operation and maps its domain
// errors onto the HTTP surface.
func (h *DeviceHandlers) ownerAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, actorID, deviceID string) error) {
	actorID := middleware.GetActorID(r.Context())
	if actorID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	err := action(r.Context(), actorID, r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, device.ErrNotFound):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Device not found")
	case errors.Is(err, device.ErrNotOwner):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Not your device")
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to update device")
	}
}
