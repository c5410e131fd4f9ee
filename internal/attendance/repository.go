package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/onnwee/clockguard/internal/anomaly"
)

// Repository defines the interface for attendance event storage.
type Repository interface {
	// Create persists the event and, when an is non-nil, its anomaly in a
	// single atomic write. Event ID, anomaly ID, and the cross references
	// are assigned before the write. Events are never updated afterwards.
	Create(ctx context.Context, ev *Event, an *anomaly.Anomaly) error

	// GetByID retrieves an event. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*Event, error)

	// ListBySubject retrieves the subject's events, newest first.
	// limit <= 0 means no limit.
	ListBySubject(ctx context.Context, subjectUserID string, limit int) ([]*Event, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu        sync.RWMutex
	events    map[string]*Event
	bySubject map[string][]string
	anomalies anomaly.Repository
}

// NewInMemoryRepository creates an in-memory event repository. Anomalies
// written alongside events are delegated to the given anomaly repository.
func NewInMemoryRepository(anomalies anomaly.Repository) *InMemoryRepository {
	return &InMemoryRepository{
		events:    make(map[string]*Event),
		bySubject: make(map[string][]string),
		anomalies: anomalies,
	}
}

// Create persists the event and its optional anomaly.
func (r *InMemoryRepository) Create(ctx context.Context, ev *Event, an *anomaly.Anomaly) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	if an != nil {
		an.SubjectEntityID = ev.ID
		if err := r.anomalies.Create(ctx, an); err != nil {
			return fmt.Errorf("failed to persist anomaly: %w", err)
		}
		ev.AnomalyID = an.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *ev
	r.events[ev.ID] = &stored
	r.bySubject[ev.SubjectUserID] = append(r.bySubject[ev.SubjectUserID], ev.ID)
	return nil
}

// GetByID retrieves an event.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	evc := *ev
	return &evc, nil
}

// ListBySubject retrieves the subject's events, newest first.
func (r *InMemoryRepository) ListBySubject(ctx context.Context, subjectUserID string, limit int) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.bySubject[subjectUserID]
	results := make([]*Event, 0, len(ids))
	for _, id := range ids {
		evc := *r.events[id]
		results = append(results, &evc)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].OccurredAt.After(results[j].OccurredAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
