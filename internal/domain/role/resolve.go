package role

import (
	"context"
	"fmt"
	"log/slog"
)

// Resolve picks the active role for subjectID from the granted set.
//
// The previously active role wins while it is still granted. Otherwise the
// lexicographically first granted role is chosen. An empty set yields a
// Selection that needs role selection. The result only ever names a role
// taken from granted.
func Resolve(subjectID string, granted Set, previous AccountRole) Selection {
	sel := Selection{SubjectID: subjectID, GrantedRoles: granted}
	switch {
	case previous != "" && granted.Contains(previous):
		sel.ActiveRole = previous
	case !granted.IsEmpty():
		sel.ActiveRole = granted.roles[0]
	}
	return sel
}

// GrantStore is the account-role data store.
// Defined here to avoid circular imports with adapters.
type GrantStore interface {
	// GetGrantedRoles returns every role granted to subjectID.
	// An unknown subject has no grants and is not an error.
	GetGrantedRoles(ctx context.Context, subjectID string) (Set, error)
}

// Resolver fetches grants from the account-role data store and applies
// Resolve. It holds no cache: every call reads the store.
type Resolver struct {
	grants GrantStore
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by grants.
func NewResolver(grants GrantStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{grants: grants, logger: logger}
}

// Granted returns the current grant set for subjectID straight from the store.
func (r *Resolver) Granted(ctx context.Context, subjectID string) (Set, error) {
	if subjectID == "" {
		return Set{}, ErrEmptySubject
	}
	set, err := r.grants.GetGrantedRoles(ctx, subjectID)
	if err != nil {
		return Set{}, fmt.Errorf("fetch granted roles: %w", err)
	}
	r.logger.Debug("granted roles fetched",
		"subject_id", subjectID,
		"roles", set.Strings(),
		"fingerprint", set.Fingerprint(),
	)
	return set, nil
}

// Resolve is the pure resolution rule. See the package-level Resolve.
func (r *Resolver) Resolve(subjectID string, granted Set, previous AccountRole) Selection {
	return Resolve(subjectID, granted, previous)
}
