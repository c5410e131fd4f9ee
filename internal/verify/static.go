package verify

import (
	"context"
	"sync"
)

// StaticScorer returns a fixed confidence for every comparison. Useful for
// local development and environments without a verification backend.
type StaticScorer struct {
	Confidence int
	Err        error
}

// Compare returns the configured confidence or error.
func (s *StaticScorer) Compare(ctx context.Context, reference, candidate []byte) (int, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	return s.Confidence, nil
}

// InMemoryReferenceStore holds enrolled reference photos in memory.
type InMemoryReferenceStore struct {
	mu     sync.RWMutex
	photos map[string][]byte
}

// NewInMemoryReferenceStore creates an empty reference store.
func NewInMemoryReferenceStore() *InMemoryReferenceStore {
	return &InMemoryReferenceStore{photos: make(map[string][]byte)}
}

// Enroll stores the reference photo for a user.
func (s *InMemoryReferenceStore) Enroll(userID string, photo []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(photo))
	copy(stored, photo)
	s.photos[userID] = stored
}

// ReferencePhoto returns the enrolled photo or ErrNoReference.
func (s *InMemoryReferenceStore) ReferencePhoto(ctx context.Context, userID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	photo, ok := s.photos[userID]
	if !ok {
		return nil, ErrNoReference
	}
	out := make([]byte, len(photo))
	copy(out, photo)
	return out, nil
}
