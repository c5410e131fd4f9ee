package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for fingerprint storage.
type Repository interface {
	// Create stores a new fingerprint. ID, FirstSeenAt, and LastSeenAt are
	// set by the repository.
	Create(ctx context.Context, f *Fingerprint) error

	// GetByID retrieves a fingerprint by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*Fingerprint, error)

	// FindByOwnerAndHash retrieves the live record for (owner, hash).
	// Returns ErrNotFound if absent.
	FindByOwnerAndHash(ctx context.Context, ownerUserID, hash string) (*Fingerprint, error)

	// TouchLastSeen advances LastSeenAt on an existing record.
	TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error

	// SetTrust updates the trust level of a fingerprint.
	SetTrust(ctx context.Context, id string, level TrustLevel) error

	// Delete removes a fingerprint record.
	Delete(ctx context.Context, id string) error

	// ListByOwner retrieves all fingerprints of an owner, newest sighting first.
	ListByOwner(ctx context.Context, ownerUserID string) ([]*Fingerprint, error)

	// CountDistinctSince counts distinct devices (any trust level) seen for
	// the owner at or after the given time.
	CountDistinctSince(ctx context.Context, ownerUserID string, since time.Time) (int, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	devices map[string]*Fingerprint
}

// NewInMemoryRepository creates a new in-memory fingerprint repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		devices: make(map[string]*Fingerprint),
	}
}

// Create stores a new fingerprint.
func (r *InMemoryRepository) Create(ctx context.Context, f *Fingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	f.ID = uuid.New().String()
	f.FirstSeenAt = now
	f.LastSeenAt = now

	stored := *f
	r.devices[f.ID] = &stored
	return nil
}

// GetByID retrieves a fingerprint by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Fingerprint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	fc := *f
	return &fc, nil
}

// FindByOwnerAndHash retrieves the live record for (owner, hash).
func (r *InMemoryRepository) FindByOwnerAndHash(ctx context.Context, ownerUserID, hash string) (*Fingerprint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.devices {
		if f.OwnerUserID == ownerUserID && f.Hash == hash {
			fc := *f
			return &fc, nil
		}
	}
	return nil, ErrNotFound
}

// TouchLastSeen advances LastSeenAt on an existing record.
func (r *InMemoryRepository) TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.devices[id]
	if !ok {
		return ErrNotFound
	}
	if seenAt.After(f.LastSeenAt) {
		f.LastSeenAt = seenAt
	}
	return nil
}

// SetTrust updates the trust level of a fingerprint.
func (r *InMemoryRepository) SetTrust(ctx context.Context, id string, level TrustLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.devices[id]
	if !ok {
		return ErrNotFound
	}
	f.TrustLevel = level
	return nil
}

// Delete removes a fingerprint record.
func (r *InMemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return ErrNotFound
	}
	delete(r.devices, id)
	return nil
}

// ListByOwner retrieves all fingerprints of an owner, newest sighting first.
func (r *InMemoryRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]*Fingerprint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Fingerprint
	for _, f := range r.devices {
		if f.OwnerUserID == ownerUserID {
			fc := *f
			results = append(results, &fc)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].LastSeenAt.After(results[j].LastSeenAt)
	})
	return results, nil
}

// CountDistinctSince counts distinct devices seen for the owner since a time.
func (r *InMemoryRepository) CountDistinctSince(ctx context.Context, ownerUserID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, f := range r.devices {
		if f.OwnerUserID == ownerUserID && !f.LastSeenAt.Before(since) {
			count++
		}
	}
	return count, nil
}
