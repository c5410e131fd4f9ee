package idempotency

import (
	"errors"
	"testing"
	"time"
)

func sampleKey(key string) *Key {
	return &Key{
		Key:                key,
		Method:             "POST",
		Route:              "/attendance/check-in",
		RequestHash:        HashRequest([]byte(`{"capture_method":"camera"}`)),
		EventID:            "ev-1",
		ResponseStatusCode: 201,
		ResponseBody:       `{"event_id":"ev-1","status":"ACCEPTED"}`,
	}
}

func TestInMemoryRepository_StoreAndGet(t *testing.T) {
	repo := NewInMemoryRepository()

	if err := repo.Store(sampleKey("k1")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := repo.Get("k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.EventID != "ev-1" {
		t.Errorf("expected EventID ev-1, got %q", got.EventID)
	}
	if got.ResponseStatusCode != 201 {
		t.Errorf("expected status 201, got %d", got.ResponseStatusCode)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set on store")
	}
}

func TestInMemoryRepository_GetMissing(t *testing.T) {
	repo := NewInMemoryRepository()

	if _, err := repo.Get("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestInMemoryRepository_StoreDuplicate(t *testing.T) {
	repo := NewInMemoryRepository()

	if err := repo.Store(sampleKey("k1")); err != nil {
		t.Fatalf("first Store failed: %v", err)
	}
	if err := repo.Store(sampleKey("k1")); !errors.Is(err, ErrKeyExists) {
		t.Errorf("expected ErrKeyExists, got %v", err)
	}
}

func TestInMemoryRepository_StoreInvalidKey(t *testing.T) {
	repo := NewInMemoryRepository()

	if err := repo.Store(sampleKey("")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewInMemoryRepository()

	record := sampleKey("k1")
	if err := repo.Store(record); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Mutating the returned record must not affect stored state.
	got, _ := repo.Get("k1")
	got.ResponseBody = "tampered"

	again, _ := repo.Get("k1")
	if again.ResponseBody == "tampered" {
		t.Error("expected Get to return a copy, stored record was mutated")
	}
}

func TestInMemoryRepository_DeleteOlderThan(t *testing.T) {
	repo := NewInMemoryRepository()

	old := sampleKey("old")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	if err := repo.Store(old); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := repo.Store(sampleKey("fresh")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	deleted, err := repo.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}

	if _, err := repo.Get("old"); !errors.Is(err, ErrKeyNotFound) {
		t.Error("expected old key to be deleted")
	}
	if _, err := repo.Get("fresh"); err != nil {
		t.Errorf("expected fresh key to survive, got %v", err)
	}
}
