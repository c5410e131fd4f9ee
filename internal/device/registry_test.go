package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/clockguard/internal/audit"
)

func newTestRegistry(t *testing.T) (*Registry, *InMemoryRepository, *audit.InMemoryRepository) {
	t.Helper()
	repo := NewInMemoryRepository()
	auditRepo := audit.NewInMemoryRepository()
	trail := audit.NewTrail(auditRepo, nil)
	return NewRegistry(repo, trail, nil, nil), repo, auditRepo
}

func samplePayload() Payload {
	return Payload{
		Platform:         "MacIntel",
		Browser:          "Firefox",
		ScreenResolution: "2560x1440",
		Timezone:         "Europe/Berlin",
		Language:         "de-DE",
		CanvasHash:       "c4nv4s",
		WebGLHash:        "w3bgl",
		UserAgent:        "Mozilla/5.0",
	}
}

func TestRegisterNewDevice(t *testing.T) {
	registry, _, auditRepo := newTestRegistry(t)
	ctx := context.Background()

	result, err := registry.Register(ctx, "user-1", samplePayload())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !result.IsNewDevice {
		t.Error("expected IsNewDevice=true for first sighting")
	}
	if result.TrustLevel != TrustUntrusted {
		t.Errorf("expected new device to be UNTRUSTED, got %s", result.TrustLevel)
	}
	if result.DeviceID == "" {
		t.Error("expected a device ID")
	}

	entries, err := auditRepo.QueryByEntity(ctx, audit.EntityDeviceFingerprint, result.DeviceID, 0)
	if err != nil {
		t.Fatalf("QueryByEntity failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != audit.ActionNewDeviceRegistered {
		t.Errorf("expected one NEW_DEVICE_REGISTERED audit entry, got %+v", entries)
	}
}

func TestRegisterIsIdempotentPerFingerprint(t *testing.T) {
	registry, repo, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := registry.Register(ctx, "user-1", samplePayload())
	if err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	created, err := repo.GetByID(ctx, first.DeviceID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	second, err := registry.Register(ctx, "user-1", samplePayload())
	if err != nil {
		t.Fatalf("second Register failed: %v", err)
	}
	if second.IsNewDevice {
		t.Error("repeat sighting should not mint a new device")
	}
	if second.DeviceID != first.DeviceID {
		t.Errorf("expected same device ID, got %s and %s", first.DeviceID, second.DeviceID)
	}

	updated, err := repo.GetByID(ctx, first.DeviceID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !updated.LastSeenAt.After(created.LastSeenAt) {
		t.Error("expected LastSeenAt to advance on repeat sighting")
	}
	if !updated.FirstSeenAt.Equal(created.FirstSeenAt) {
		t.Error("FirstSeenAt must not change on repeat sighting")
	}

	devices, err := repo.ListByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("expected exactly one record, got %d", len(devices))
	}
}

func TestListByOwnerNewestSightingFirst(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	var ids []string
	for _, canvas := range []string{"a", "b", "c"} {
		f := &Fingerprint{OwnerUserID: "user-1", Hash: "h-" + canvas}
		if err := repo.Create(ctx, f); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, f.ID)
	}
	base := time.Now().UTC()
	for i, id := range ids {
		if err := repo.TouchLastSeen(ctx, id, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("TouchLastSeen failed: %v", err)
		}
	}

	devices, err := repo.ListByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}
	for i := 1; i < len(devices); i++ {
		if devices[i].LastSeenAt.After(devices[i-1].LastSeenAt) {
			t.Errorf("expected newest sighting first, got %v before %v",
				devices[i-1].LastSeenAt, devices[i].LastSeenAt)
		}
	}
}

func TestRegisterNormalizesCosmeticVariation(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := registry.Register(ctx, "user-1", samplePayload())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	varied := samplePayload()
	varied.Platform = "  macintel "
	varied.Browser = "FIREFOX"

	second, err := registry.Register(ctx, "user-1", varied)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if second.IsNewDevice || second.DeviceID != first.DeviceID {
		t.Error("case and whitespace variation should map to the same device")
	}
}

func TestRegisterScopedToOwner(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := registry.Register(ctx, "user-1", samplePayload())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	second, err := registry.Register(ctx, "user-2", samplePayload())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !second.IsNewDevice {
		t.Error("same payload from a different owner is a distinct device")
	}
	if second.DeviceID == first.DeviceID {
		t.Error("devices of different owners must not share a record")
	}
}

func TestRegisterRejectsEmptyPayload(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	_, err := registry.Register(context.Background(), "user-1", Payload{})
	if !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestTrustAndRevoke(t *testing.T) {
	registry, repo, auditRepo := newTestRegistry(t)
	ctx := context.Background()

	result, err := registry.Register(ctx, "user-1", samplePayload())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := registry.Trust(ctx, "user-1", result.DeviceID); err != nil {
		t.Fatalf("Trust failed: %v", err)
	}
	f, _ := repo.GetByID(ctx, result.DeviceID)
	if f.TrustLevel != TrustTrusted {
		t.Errorf("expected TRUSTED after Trust, got %s", f.TrustLevel)
	}

	if err := registry.Revoke(ctx, "user-1", result.DeviceID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	f, _ = repo.GetByID(ctx, result.DeviceID)
	if f.TrustLevel != TrustUntrusted {
		t.Errorf("expected UNTRUSTED after Revoke, got %s", f.TrustLevel)
	}

	entries, _ := auditRepo.QueryByEntity(ctx, audit.EntityDeviceFingerprint, result.DeviceID, 0)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	want := map[string]bool{
		audit.ActionNewDeviceRegistered: false,
		audit.ActionDeviceTrusted:       false,
		audit.ActionDeviceRevoked:       false,
	}
	for _, a := range actions {
		want[a] = true
	}
	for action, seen := range want {
		if !seen {
			t.Errorf("missing %s audit entry, got %v", action, actions)
		}
	}
}

func TestTrustRejectsNonOwner(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	result, err := registry.Register(ctx, "user-1", samplePayload())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := registry.Trust(ctx, "user-2", result.DeviceID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Trust: expected ErrNotOwner, got %v", err)
	}
	if err := registry.Delete(ctx, "user-2", result.DeviceID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Delete: expected ErrNotOwner, got %v", err)
	}
}

func TestAutoTrust(t *testing.T) {
	registry, repo, _ := newTestRegistry(t)
	ctx := context.Background()

	result, err := registry.Register(ctx, "user-1", samplePayload())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := registry.AutoTrust(ctx, "user-1", result.DeviceID); err != nil {
		t.Fatalf("AutoTrust failed: %v", err)
	}
	f, _ := repo.GetByID(ctx, result.DeviceID)
	if f.TrustLevel != TrustTrusted {
		t.Errorf("expected TRUSTED after AutoTrust, got %s", f.TrustLevel)
	}

	// Already trusted and wrong owner are both quiet no-ops.
	if err := registry.AutoTrust(ctx, "user-1", result.DeviceID); err != nil {
		t.Errorf("repeat AutoTrust should be a no-op, got %v", err)
	}
	if err := registry.AutoTrust(ctx, "user-2", result.DeviceID); err != nil {
		t.Errorf("AutoTrust for non-owner should be a quiet no-op, got %v", err)
	}
	f, _ = repo.GetByID(ctx, result.DeviceID)
	if f.TrustLevel != TrustTrusted {
		t.Error("non-owner AutoTrust must not change trust")
	}
}

func TestDelete(t *testing.T) {
	registry, repo, _ := newTestRegistry(t)
	ctx := context.Background()

	result, err := registry.Register(ctx, "user-1", samplePayload())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Delete(ctx, "user-1", result.DeviceID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.GetByID(ctx, result.DeviceID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := registry.Delete(ctx, "user-1", result.DeviceID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing device, got %v", err)
	}
}

func TestCountRecentDistinctDevices(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	payloads := []Payload{samplePayload(), samplePayload(), samplePayload()}
	payloads[1].CanvasHash = "other-canvas"
	payloads[2].Platform = "Win32"
	for _, p := range payloads {
		if _, err := registry.Register(ctx, "user-1", p); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	// Repeat sighting must not inflate the count.
	if _, err := registry.Register(ctx, "user-1", payloads[0]); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	count, err := registry.CountRecentDistinctDevices(ctx, "user-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("CountRecentDistinctDevices failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 distinct devices, got %d", count)
	}
}

func TestPayloadHashDeterministic(t *testing.T) {
	a := samplePayload().Hash()
	b := samplePayload().Hash()
	if a != b {
		t.Error("identical payloads must hash identically")
	}

	varied := samplePayload()
	varied.WebGLHash = "different"
	if varied.Hash() == a {
		t.Error("distinct payloads must not collide")
	}
}
