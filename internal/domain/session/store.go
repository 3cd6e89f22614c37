package session

import (
	"context"
)

// IdentityProvider is the external identity service.
// This interface is defined in the domain to avoid circular imports.
// Implementations: HTTPS client (prod), local signer (dev).
type IdentityProvider interface {
	// SignIn authenticates credentials and returns a new session.
	SignIn(ctx context.Context, creds Credentials) (*Session, error)

	// SignOut invalidates the session behind rawToken on the provider.
	SignOut(ctx context.Context, rawToken string) error

	// GetSession returns the session the provider associates with rawToken.
	GetSession(ctx context.Context, rawToken string) (*Session, error)

	// RefreshSession re-validates current and returns a renewed session.
	RefreshSession(ctx context.Context, current *Session) (*Session, error)
}

// Persister stores the client-side session record.
// Implementations must treat both clears as idempotent.
type Persister interface {
	SaveSession(ctx context.Context, rec Record) error
	LoadSession(ctx context.Context) (*Record, error)
	ClearSession(ctx context.Context) error
	// ClearAll removes the session record and all scoped data. The store
	// calls it when a different subject takes over the local state.
	ClearAll(ctx context.Context) error
}
