package idempotency

import (
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewInMemoryRepository creates a new in-memory idempotency key repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		keys: make(map[string]*Key),
	}
}

// Get retrieves an idempotency key by its key value.
// Returns ErrKeyNotFound if the key doesn't exist.
func (r *InMemoryRepository) Get(key string) (*Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.keys[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	// Return a copy to prevent external mutation
	copied := *record
	return &copied, nil
}

// Store saves a new idempotency key.
// Returns ErrKeyExists if the key already exists.
func (r *InMemoryRepository) Store(record *Key) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[record.Key]; exists {
		return ErrKeyExists
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	// Store a copy to prevent external mutation
	copied := *record
	r.keys[record.Key] = &copied

	return nil
}

// DeleteOlderThan removes idempotency keys older than the specified duration.
// Returns the number of keys deleted.
func (r *InMemoryRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoffTime := time.Now().Add(-duration)
	deleted := int64(0)

	for key, record := range r.keys {
		if record.CreatedAt.Before(cutoffTime) {
			delete(r.keys, key)
			deleted++
		}
	}

	return deleted, nil
}
