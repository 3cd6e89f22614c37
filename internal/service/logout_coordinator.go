package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/telemetry"
)

// Logout outcomes passed to LogoutRecorder.
const (
	LogoutOK           = "ok"
	LogoutServerFailed = "server_failed"
	LogoutLocalOnly    = "local_only"
)

// CredentialStore is the part of the session store logout needs.
type CredentialStore interface {
	Credential() *session.Session
	Discard(ctx context.Context)
}

// LocalWiper clears every locally cached record and role-scoped entry.
type LocalWiper interface {
	ClearAll(ctx context.Context) error
}

// LogoutRecorder observes completed logouts.
type LogoutRecorder interface {
	RecordLogout(ctx context.Context, result string)
}

// LogoutError reports that server-side sign-out failed. The local wipe has
// still happened when it is returned.
type LogoutError struct {
	Attempts int
	Err      error
}

func (e *LogoutError) Error() string {
	return fmt.Sprintf("server sign-out failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *LogoutError) Unwrap() error { return e.Err }

// LogoutCoordinator signs the subject out with the identity provider and
// then wipes all local state, whatever the provider said.
type LogoutCoordinator struct {
	provider   session.IdentityProvider
	store      CredentialStore
	cache      LocalWiper
	logger     *slog.Logger
	retryDelay time.Duration
	recorders  []LogoutRecorder

	hooksMu sync.Mutex
	hooks   []func()
}

// LogoutOption configures a LogoutCoordinator.
type LogoutOption func(*LogoutCoordinator)

// WithRetryDelay sets the pause before the single sign-out retry.
func WithRetryDelay(d time.Duration) LogoutOption {
	return func(c *LogoutCoordinator) { c.retryDelay = d }
}

// WithLogoutRecorder adds an observer. May be given more than once.
func WithLogoutRecorder(rec LogoutRecorder) LogoutOption {
	return func(c *LogoutCoordinator) { c.recorders = append(c.recorders, rec) }
}

// NewLogoutCoordinator creates a LogoutCoordinator. cache may be nil when no
// local cache is configured.
func NewLogoutCoordinator(provider session.IdentityProvider, store CredentialStore, cache LocalWiper, logger *slog.Logger, opts ...LogoutOption) *LogoutCoordinator {
	c := &LogoutCoordinator{
		provider:   provider,
		store:      store,
		cache:      cache,
		logger:     logger,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnReset registers fn to run after every local wipe.
func (c *LogoutCoordinator) OnReset(fn func()) {
	c.hooksMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.hooksMu.Unlock()
}

// Logout attempts server-side sign-out, retrying once, and then clears the
// session store and local cache. The local wipe runs even when ctx is
// cancelled. A server failure is returned as *LogoutError.
func (c *LogoutCoordinator) Logout(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerService, "logout.Logout")
	defer span.End()

	var serverErr error
	result := LogoutLocalOnly
	if cred := c.store.Credential(); cred != nil {
		span.SetAttributes(attribute.String(telemetry.AttrSubjectID, cred.SubjectID))
		serverErr = c.signOut(ctx, cred.RawToken)
		result = LogoutOK
		if serverErr != nil {
			result = LogoutServerFailed
		}
	}

	wipeErr := c.wipe(context.WithoutCancel(ctx))

	for _, rec := range c.recorders {
		rec.RecordLogout(ctx, result)
	}
	err := errors.Join(serverErr, wipeErr)
	telemetry.RecordError(span, err)
	return err
}

func (c *LogoutCoordinator) signOut(ctx context.Context, rawToken string) error {
	const attempts = 2
	var err error
	for i := 1; i <= attempts; i++ {
		if err = c.provider.SignOut(ctx, rawToken); err == nil {
			return nil
		}
		c.logger.Warn("server sign-out failed", "attempt", i, "error", err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return &LogoutError{Attempts: i, Err: session.Classify(err)}
		case <-time.After(c.retryDelay):
		}
	}
	return &LogoutError{Attempts: attempts, Err: session.Classify(err)}
}

func (c *LogoutCoordinator) wipe(ctx context.Context) error {
	c.store.Discard(ctx)

	var err error
	if c.cache != nil {
		if cerr := c.cache.ClearAll(ctx); cerr != nil {
			err = fmt.Errorf("clear local cache: %w", cerr)
			c.logger.Error("local cache wipe failed", "error", cerr)
		}
	}

	c.hooksMu.Lock()
	hooks := make([]func(), len(c.hooks))
	copy(hooks, c.hooks)
	c.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	c.logger.Info("local session wiped")
	return err
}
