package memory

import (
	"context"
	"sync"

	"github.com/swiftdrop/accountgate/internal/domain/role"
)

// GrantStore implements role.GrantStore with an in-memory map.
// Thread-safe for concurrent access. For development/testing only.
type GrantStore struct {
	mu     sync.RWMutex
	grants map[string]role.Set
}

// NewGrantStore creates a store seeded with grants (subject to role names).
// Unknown role names are ignored.
func NewGrantStore(seed map[string][]string) *GrantStore {
	s := &GrantStore{grants: make(map[string]role.Set, len(seed))}
	for subject, roles := range seed {
		s.grants[subject] = role.ParseSet(roles...)
	}
	return s
}

// GetGrantedRoles returns the subject's grants. Unknown subjects have none.
func (s *GrantStore) GetGrantedRoles(_ context.Context, subjectID string) (role.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[subjectID], nil
}

// Grant adds r to the subject's grants.
func (s *GrantStore) Grant(subjectID string, r role.AccountRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[subjectID] = role.NewSet(append(s.grants[subjectID].Roles(), r)...)
}

// Revoke removes r from the subject's grants.
func (s *GrantStore) Revoke(subjectID string, r role.AccountRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]role.AccountRole, 0, s.grants[subjectID].Len())
	for _, g := range s.grants[subjectID].Roles() {
		if g != r {
			kept = append(kept, g)
		}
	}
	s.grants[subjectID] = role.NewSet(kept...)
}

// Ping always succeeds.
func (s *GrantStore) Ping(context.Context) error { return nil }

// Compile-time interface verification.
var _ role.GrantStore = (*GrantStore)(nil)
