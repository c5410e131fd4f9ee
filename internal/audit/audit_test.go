package audit

import (
	"context"
	"errors"
	"testing"
)

func TestAppendAndQueryByEntity(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	first, err := repo.Append(ctx, Entry{
		ActorUserID: "u1",
		Action:      ActionAttendanceCheckIn,
		EntityType:  EntityAttendanceEvent,
		EntityID:    "e1",
		Severity:    SeverityInfo,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Error("Append() should set ID and CreatedAt")
	}

	if _, err := repo.Append(ctx, Entry{
		Action:     ActionAnomalyDetected,
		EntityType: EntityAttendanceEvent,
		EntityID:   "e1",
		Severity:   SeverityWarning,
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := repo.QueryByEntity(ctx, EntityAttendanceEvent, "e1", 0)
	if err != nil {
		t.Fatalf("QueryByEntity() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("QueryByEntity() returned %d entries, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Action != ActionAnomalyDetected {
		t.Errorf("first entry action = %s, want %s", entries[0].Action, ActionAnomalyDetected)
	}
}

func TestQueryByActorWithLimit(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := repo.Append(ctx, Entry{
			ActorUserID: "u1",
			Action:      ActionAttendanceCheckIn,
			EntityType:  EntityAttendanceEvent,
			EntityID:    "e1",
			Severity:    SeverityInfo,
		}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	entries, err := repo.QueryByActor(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("QueryByActor() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("QueryByActor() returned %d entries, want 2", len(entries))
	}
}

func TestValidateEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr error
	}{
		{
			name: "valid entry",
			entry: Entry{
				Action:     ActionDeviceTrusted,
				EntityType: EntityDeviceFingerprint,
				EntityID:   "d1",
			},
		},
		{
			name: "unknown action",
			entry: Entry{
				Action:     "SOMETHING_ELSE",
				EntityType: EntityDeviceFingerprint,
				EntityID:   "d1",
			},
			wantErr: ErrInvalidAction,
		},
		{
			name: "unknown entity type",
			entry: Entry{
				Action:     ActionDeviceTrusted,
				EntityType: "widget",
				EntityID:   "d1",
			},
			wantErr: ErrInvalidEntityType,
		},
		{
			name: "missing entity ID",
			entry: Entry{
				Action:     ActionDeviceTrusted,
				EntityType: EntityDeviceFingerprint,
			},
			wantErr: ErrInvalidEntityID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntry(tt.entry)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateEntry() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// failingRepository always fails on Append.
type failingRepository struct {
	InMemoryRepository
}

func (r *failingRepository) Append(ctx context.Context, entry Entry) (*Entry, error) {
	return nil, errors.New("store unavailable")
}

func TestTrailSwallowsRepositoryFailures(t *testing.T) {
	trail := NewTrail(&failingRepository{}, nil)

	// Must not panic and must not surface the error.
	trail.Record(context.Background(), "u1", ActionAttendanceCheckIn,
		EntityAttendanceEvent, "e1", SeverityInfo, nil)
}

func TestTrailRecordsEntries(t *testing.T) {
	repo := NewInMemoryRepository()
	trail := NewTrail(repo, nil)
	ctx := context.Background()

	trail.Record(ctx, "", ActionNewDeviceRegistered, EntityDeviceFingerprint, "d1",
		SeverityInfo, map[string]any{"owner": "u1"})

	entries, err := repo.QueryByEntity(ctx, EntityDeviceFingerprint, "d1", 0)
	if err != nil {
		t.Fatalf("QueryByEntity() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ActorUserID != "" {
		t.Errorf("system entry should have empty actor, got %q", entries[0].ActorUserID)
	}
	if entries[0].Metadata["owner"] != "u1" {
		t.Errorf("metadata not preserved: %v", entries[0].Metadata)
	}
}
