package alert

import (
	"context"
	"sync"
)

// InMemoryDirectory is an in-memory RoleDirectory for testing and development.
// Thread-safe via RWMutex.
type InMemoryDirectory struct {
	mu    sync.RWMutex
	roles map[string][]string // role -> active user IDs
}

// NewInMemoryDirectory creates an empty directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		roles: make(map[string][]string),
	}
}

// Grant adds a user to a role.
func (d *InMemoryDirectory) Grant(role, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.roles[role] {
		if id == userID {
			return
		}
	}
	d.roles[role] = append(d.roles[role], userID)
}

// Revoke removes a user from a role.
func (d *InMemoryDirectory) Revoke(role, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members := d.roles[role]
	for i, id := range members {
		if id == userID {
			d.roles[role] = append(members[:i], members[i+1:]...)
			return
		}
	}
}

// ListActiveUsersWithRole returns the users currently holding the role.
// Returns a copy to avoid external modification.
func (d *InMemoryDirectory) ListActiveUsersWithRole(ctx context.Context, role string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.roles[role]
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}
