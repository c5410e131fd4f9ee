package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/clockguard/internal/alert"
	"github.com/onnwee/clockguard/internal/audit"
	"github.com/onnwee/clockguard/internal/auth"
)

// RegistrationResult reports the outcome of a fingerprint sighting.
type RegistrationResult struct {
	DeviceID    string     `json:"device_id"`
	IsNewDevice bool       `json:"is_new_device"`
	TrustLevel  TrustLevel `json:"trust_level"`
}

// Registry registers fingerprint sightings and manages trust transitions.
type Registry struct {
	repo   Repository
	trail  *audit.Trail
	fanout *alert.Fanout
	logger *slog.Logger
}

// NewRegistry creates a Registry. fanout may be nil when no alerting is wired.
func NewRegistry(repo Repository, trail *audit.Trail, fanout *alert.Fanout, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, trail: trail, fanout: fanout, logger: logger}
}

// Register records a sighting of the given payload for ownerUserID. A payload
// whose hash matches a live record only advances that record's LastSeenAt; an
// unseen hash mints a new UNTRUSTED record, writes an audit entry, and alerts
// both the owner and the oversight role.
func (r *Registry) Register(ctx context.Context, ownerUserID string, payload Payload) (*RegistrationResult, error) {
	if payload.Empty() {
		return nil, ErrEmptyPayload
	}

	hash := payload.Hash()
	now := time.Now().UTC()

	existing, err := r.repo.FindByOwnerAndHash(ctx, ownerUserID, hash)
	if err == nil {
		if touchErr := r.repo.TouchLastSeen(ctx, existing.ID, now); touchErr != nil {
			return nil, fmt.Errorf("failed to record device sighting: %w", touchErr)
		}
		return &RegistrationResult{
			DeviceID:    existing.ID,
			IsNewDevice: false,
			TrustLevel:  existing.TrustLevel,
		}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up device fingerprint: %w", err)
	}

	f := &Fingerprint{
		OwnerUserID: ownerUserID,
		Hash:        hash,
		Payload:     payload.Normalize(),
		TrustLevel:  TrustUntrusted,
	}
	if err := r.repo.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to register device fingerprint: %w", err)
	}

	r.trail.Record(ctx, ownerUserID, audit.ActionNewDeviceRegistered,
		audit.EntityDeviceFingerprint, f.ID, audit.SeverityInfo, map[string]any{
			"hash":     f.Hash,
			"platform": f.Payload.Platform,
			"browser":  f.Payload.Browser,
		})

	if r.fanout != nil {
		meta := map[string]any{"device_id": f.ID, "owner_user_id": ownerUserID}
		r.fanout.Notify(ctx, ownerUserID,
			"New device registered",
			"A device not seen before was used on your account. If this was not you, contact your administrator.",
			alert.PriorityNormal, meta)
		r.fanout.NotifyRole(ctx, auth.RoleOversight,
			"New device registered",
			fmt.Sprintf("User %s registered a previously unseen device.", ownerUserID),
			alert.PriorityNormal, meta)
	}

	return &RegistrationResult{
		DeviceID:    f.ID,
		IsNewDevice: true,
		TrustLevel:  TrustUntrusted,
	}, nil
}

// Trust marks a device as TRUSTED. actorUserID must own the device.
func (r *Registry) Trust(ctx context.Context, actorUserID, deviceID string) error {
	return r.setTrust(ctx, actorUserID, deviceID, TrustTrusted, audit.ActionDeviceTrusted)
}

// Revoke marks a device as UNTRUSTED. actorUserID must own the device.
func (r *Registry) Revoke(ctx context.Context, actorUserID, deviceID string) error {
	return r.setTrust(ctx, actorUserID, deviceID, TrustUntrusted, audit.ActionDeviceRevoked)
}

func (r *Registry) setTrust(ctx context.Context, actorUserID, deviceID string, level TrustLevel, action string) error {
	f, err := r.repo.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if f.OwnerUserID != actorUserID {
		return ErrNotOwner
	}
	if err := r.repo.SetTrust(ctx, deviceID, level); err != nil {
		return fmt.Errorf("failed to update device trust: %w", err)
	}
	r.trail.Record(ctx, actorUserID, action, audit.EntityDeviceFingerprint,
		deviceID, audit.SeverityInfo, map[string]any{"trust_level": string(level)})
	return nil
}

// AutoTrust promotes a device to TRUSTED without an owner action. Used after
// a verified, finding-free attendance event from that device.
func (r *Registry) AutoTrust(ctx context.Context, ownerUserID, deviceID string) error {
	f, err := r.repo.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if f.OwnerUserID != ownerUserID || f.TrustLevel == TrustTrusted {
		return nil
	}
	if err := r.repo.SetTrust(ctx, deviceID, TrustTrusted); err != nil {
		return fmt.Errorf("failed to auto-trust device: %w", err)
	}
	r.trail.Record(ctx, ownerUserID, audit.ActionDeviceTrusted,
		audit.EntityDeviceFingerprint, deviceID, audit.SeverityInfo,
		map[string]any{"trust_level": string(TrustTrusted), "auto": true})
	return nil
}

// Delete removes a device record. actorUserID must own the device.
func (r *Registry) Delete(ctx context.Context, actorUserID, deviceID string) error {
	f, err := r.repo.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if f.OwnerUserID != actorUserID {
		return ErrNotOwner
	}
	if err := r.repo.Delete(ctx, deviceID); err != nil {
		return fmt.Errorf("failed to delete device fingerprint: %w", err)
	}
	r.trail.Record(ctx, actorUserID, audit.ActionDeviceDeleted,
		audit.EntityDeviceFingerprint, deviceID, audit.SeverityInfo, nil)
	return nil
}

// List returns the owner's devices, newest sighting first.
func (r *Registry) List(ctx context.Context, ownerUserID string) ([]*Fingerprint, error) {
	return r.repo.ListByOwner(ctx, ownerUserID)
}

// CountRecentDistinctDevices counts distinct devices the owner has used
// within the trailing window. Feeds the device-churn heuristic.
func (r *Registry) CountRecentDistinctDevices(ctx context.Context, ownerUserID string, window time.Duration) (int, error) {
	return r.repo.CountDistinctSince(ctx, ownerUserID, time.Now().UTC().Add(-window))
}
