// Package outbound defines the outbound port interfaces for client-local
// storage.
package outbound

import (
	"context"
	"errors"

	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
)

// Well-known names of role-scoped cache entries.
const (
	ScopedOrderHistory = "order_history"
	ScopedDraftForm    = "draft_form"
)

// ErrScopedNotFound is returned when a role-scoped entry does not exist.
var ErrScopedNotFound = errors.New("scoped entry not found")

// ScopedKey addresses one piece of role-scoped cached data.
type ScopedKey struct {
	SubjectID string           `json:"subject_id"`
	Role      role.AccountRole `json:"role"`
	Name      string           `json:"name"`
}

// String renders the key as subject/role/name.
func (k ScopedKey) String() string {
	return k.SubjectID + "/" + string(k.Role) + "/" + k.Name
}

// Valid reports whether every part of the key is set.
func (k ScopedKey) Valid() bool {
	return k.SubjectID != "" && k.Role.IsValid() && k.Name != ""
}

// LocalCache is the persisted client state: the session record plus data
// cached per subject and role. Its ClearAll, inherited from session.Persister,
// removes every scoped entry as well.
// Implementations: JSON file (default), SQLite, in-memory.
type LocalCache interface {
	session.Persister

	// PutScoped stores value under key, replacing any previous value.
	PutScoped(ctx context.Context, key ScopedKey, value []byte) error

	// GetScoped returns the value under key or ErrScopedNotFound.
	GetScoped(ctx context.Context, key ScopedKey) ([]byte, error)

	// ListScoped lists keys for subjectID. An empty r lists every role.
	ListScoped(ctx context.Context, subjectID string, r role.AccountRole) ([]ScopedKey, error)

	// Ping reports whether the cache is usable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
