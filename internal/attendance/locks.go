package attendance

import "sync"

// subjectLocks serializes concurrent record() calls for the same subject so
// both cannot read "no recent duplicate" and both succeed. Calls for
// different subjects proceed in parallel. Entries are reference counted and
// removed once the last holder unlocks, keeping the map bounded by the
// number of in-flight calls.
type subjectLocks struct {
	mu    sync.Mutex
	locks map[string]*subjectLock
}

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

func newSubjectLocks() *subjectLocks {
	return &subjectLocks{locks: make(map[string]*subjectLock)}
}

func (s *subjectLocks) lock(key string) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &subjectLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
}

func (s *subjectLocks) unlock(key string) {
	s.mu.Lock()
	l := s.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
	s.mu.Unlock()

	l.mu.Unlock()
}
