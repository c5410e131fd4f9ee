package anomaly

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for anomaly storage.
type Repository interface {
	// Create persists a new anomaly in PENDING state.
	// The ID and CreatedAt fields are set by the repository.
	Create(ctx context.Context, a *Anomaly) error

	// GetByID retrieves an anomaly by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*Anomaly, error)

	// Resolve atomically transitions a PENDING anomaly to the given terminal
	// outcome, stamping the resolution fields. Returns ErrAlreadyResolved if
	// the anomaly is no longer PENDING, ErrNotFound if absent.
	Resolve(ctx context.Context, id string, outcome Status, resolvedBy, note string) (*Anomaly, error)

	// ListByStatus retrieves anomalies in the given state, newest first.
	// Limit specifies the maximum number to return (0 = no limit).
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Anomaly, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu        sync.RWMutex
	anomalies map[string]*Anomaly
	order     []string
}

// NewInMemoryRepository creates a new in-memory anomaly repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		anomalies: make(map[string]*Anomaly),
		order:     make([]string, 0),
	}
}

// Create persists a new anomaly in PENDING state.
func (r *InMemoryRepository) Create(ctx context.Context, a *Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a.ID = uuid.New().String()
	a.Status = StatusPending
	a.CreatedAt = time.Now().UTC()

	stored := copyAnomaly(a)
	r.anomalies[a.ID] = stored
	r.order = append(r.order, a.ID)
	return nil
}

// GetByID retrieves an anomaly by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Anomaly, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.anomalies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAnomaly(a), nil
}

// Resolve atomically transitions a PENDING anomaly to a terminal outcome.
func (r *InMemoryRepository) Resolve(ctx context.Context, id string, outcome Status, resolvedBy, note string) (*Anomaly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.anomalies[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}

	now := time.Now().UTC()
	a.Status = outcome
	a.ResolvedBy = resolvedBy
	a.ResolvedAt = &now
	a.ResolutionNote = note

	return copyAnomaly(a), nil
}

// ListByStatus retrieves anomalies in the given state, newest first.
func (r *InMemoryRepository) ListByStatus(ctx context.Context, status Status, limit int) ([]*Anomaly, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Anomaly
	for i := len(r.order) - 1; i >= 0; i-- {
		a := r.anomalies[r.order[i]]
		if a.Status != status {
			continue
		}
		results = append(results, copyAnomaly(a))
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// copyAnomaly creates a deep copy to prevent external mutation.
func copyAnomaly(a *Anomaly) *Anomaly {
	copied := *a
	if a.ResolvedAt != nil {
		resolvedAt := *a.ResolvedAt
		copied.ResolvedAt = &resolvedAt
	}
	if a.Context != nil {
		copied.Context = make(map[string]any, len(a.Context))
		for k, v := range a.Context {
			copied.Context[k] = v
		}
	}
	return &copied
}
