// Package inbound defines the interfaces inbound adapters (HTTP, CLI) call
// to drive the session subsystem.
package inbound

import (
	"context"

	"github.com/swiftdrop/accountgate/internal/domain/guard"
	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
)

// AccountService is the inbound port for the session subsystem.
type AccountService interface {
	// SignIn exchanges credentials for a session.
	SignIn(ctx context.Context, creds session.Credentials) (session.Snapshot, error)

	// Snapshot returns the current session and selection without I/O.
	Snapshot() session.Snapshot

	// Refresh forces a refresh, retrying network failures.
	Refresh(ctx context.Context) (session.Snapshot, error)

	// SwitchTo changes the active role.
	SwitchTo(ctx context.Context, target role.AccountRole) (role.Selection, error)

	// Decide evaluates a navigation to path.
	Decide(path string) guard.Decision

	// Logout signs out server-side and wipes local state.
	Logout(ctx context.Context) error
}
