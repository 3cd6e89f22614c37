package service

import (
	"context"
	"errors"

	"github.com/swiftdrop/accountgate/internal/domain/guard"
	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/port/inbound"
)

// AccountService composes the session subsystem behind the inbound port.
type AccountService struct {
	store     *session.Store
	signIn    *SignInService
	refresher *guard.Refresher
	switcher  *SwitchWorkflow
	guard     *guard.Guard
	logout    *LogoutCoordinator
}

// NewAccountService creates an AccountService from its parts.
func NewAccountService(
	store *session.Store,
	signIn *SignInService,
	refresher *guard.Refresher,
	switcher *SwitchWorkflow,
	g *guard.Guard,
	logout *LogoutCoordinator,
) *AccountService {
	return &AccountService{
		store:     store,
		signIn:    signIn,
		refresher: refresher,
		switcher:  switcher,
		guard:     g,
		logout:    logout,
	}
}

// SignIn exchanges credentials for a session.
func (s *AccountService) SignIn(ctx context.Context, creds session.Credentials) (session.Snapshot, error) {
	return s.signIn.SignIn(ctx, creds)
}

// Snapshot returns the current session and selection.
func (s *AccountService) Snapshot() session.Snapshot {
	return s.store.Snapshot()
}

// Refresh runs a refresh on the caller's goroutine with network retries.
// A refresh superseded by a newer commit is not an error; the snapshot
// reflects whichever commit won.
func (s *AccountService) Refresh(ctx context.Context) (session.Snapshot, error) {
	if err := s.refresher.RefreshNow(ctx); err != nil && !errors.Is(err, session.ErrSuperseded) {
		return s.store.Snapshot(), err
	}
	return s.store.Snapshot(), nil
}

// SwitchTo changes the active role.
func (s *AccountService) SwitchTo(ctx context.Context, target role.AccountRole) (role.Selection, error) {
	return s.switcher.SwitchTo(ctx, target)
}

// Decide evaluates a navigation without blocking.
func (s *AccountService) Decide(path string) guard.Decision {
	return s.guard.Decide(path)
}

// Logout signs out and wipes local state.
func (s *AccountService) Logout(ctx context.Context) error {
	return s.logout.Logout(ctx)
}

var _ inbound.AccountService = (*AccountService)(nil)
