package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Validation errors for audit entries.
var (
	ErrInvalidEntityType = errors.New("entity type must be one of the known entity types")
	ErrInvalidEntityID   = errors.New("entity ID cannot be empty")
	ErrInvalidAction     = errors.New("action must be one of the known audit actions")
)

// ValidateEntry checks the required fields of an entry against the vocabularies.
func ValidateEntry(e Entry) error {
	if e.EntityID == "" {
		return ErrInvalidEntityID
	}
	if !ValidEntityTypes[e.EntityType] {
		return ErrInvalidEntityType
	}
	if !ValidActions[e.Action] {
		return ErrInvalidAction
	}
	return nil
}

// Repository defines the interface for audit trail storage.
type Repository interface {
	// Append records an entry. Returns the stored entry with ID and CreatedAt set.
	Append(ctx context.Context, entry Entry) (*Entry, error)

	// QueryByEntity retrieves entries for a specific entity, newest first.
	// Limit specifies the maximum number of entries to return (0 = no limit).
	QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*Entry, error)

	// QueryByActor retrieves entries recorded for a specific actor, newest first.
	// Limit specifies the maximum number of entries to return (0 = no limit).
	QueryByActor(ctx context.Context, actorUserID string, limit int) ([]*Entry, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	// Maintain insertion order for queries
	order []string
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[string]*Entry),
		order:   make([]string, 0),
	}
}

// Append records an entry.
func (r *InMemoryRepository) Append(ctx context.Context, entry Entry) (*Entry, error) {
	if err := ValidateEntry(entry); err != nil {
		return nil, err
	}

	stored := entry
	stored.ID = uuid.New().String()
	stored.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	r.entries[stored.ID] = &stored
	r.order = append(r.order, stored.ID)
	r.mu.Unlock()

	// Return a copy to prevent external modification
	entryCopy := stored
	return &entryCopy, nil
}

// QueryByEntity retrieves entries for a specific entity, newest first.
func (r *InMemoryRepository) QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry

	for i := len(r.order) - 1; i >= 0; i-- {
		entry := r.entries[r.order[i]]

		if entry.EntityType == entityType && entry.EntityID == entityID {
			entryCopy := *entry
			results = append(results, &entryCopy)

			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}

	return results, nil
}

// QueryByActor retrieves entries recorded for a specific actor, newest first.
func (r *InMemoryRepository) QueryByActor(ctx context.Context, actorUserID string, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry

	for i := len(r.order) - 1; i >= 0; i-- {
		entry := r.entries[r.order[i]]

		if entry.ActorUserID == actorUserID {
			entryCopy := *entry
			results = append(results, &entryCopy)

			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}

	return results, nil
}
