// Package localidp is an identity provider for development and offline use.
// Passwords are checked against argon2id hashes and sessions are HS256 JWTs,
// so tokens stay valid across processes that share the signing secret.
package localidp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/swiftdrop/accountgate/internal/domain/session"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
	issuer      = "accountgate-local"
)

// User is a sign-in identity known to the provider.
type User struct {
	SubjectID    string
	Email        string
	PasswordHash string
}

// Config configures a Provider.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Users      []User
}

// Provider implements session.IdentityProvider locally.
type Provider struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	users      map[string]User // by lower-cased email
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	revoked map[string]time.Time // session id -> refresh expiry
}

type claims struct {
	jwt.RegisteredClaims
	Kind      string `json:"kind"`
	SessionID string `json:"sid"`
}

// ErrWeakSecret is returned when the signing secret is too short.
var ErrWeakSecret = errors.New("signing secret must be at least 32 bytes")

// New creates a Provider.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	if len(cfg.Secret) < 32 {
		return nil, ErrWeakSecret
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		secret:     cfg.Secret,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		users:      make(map[string]User, len(cfg.Users)),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		revoked:    make(map[string]time.Time),
	}
	if p.accessTTL <= 0 {
		p.accessTTL = time.Hour
	}
	if p.refreshTTL <= 0 {
		p.refreshTTL = 30 * 24 * time.Hour
	}
	for _, u := range cfg.Users {
		if u.SubjectID == "" || u.Email == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("local user %q is incomplete", u.Email)
		}
		p.users[strings.ToLower(u.Email)] = u
	}
	return p, nil
}

// SignIn checks the password and issues a new session.
func (p *Provider) SignIn(_ context.Context, creds session.Credentials) (*session.Session, error) {
	u, ok := p.users[strings.ToLower(strings.TrimSpace(creds.Email))]
	if !ok {
		// Hash anyway so unknown emails cost the same as wrong passwords.
		_, _ = argon2id.ComparePasswordAndHash(creds.Password, dummyHash)
		return nil, invalidCredentials()
	}
	match, err := argon2id.ComparePasswordAndHash(creds.Password, u.PasswordHash)
	if err != nil {
		return nil, &session.AuthError{Kind: session.Unknown, Err: fmt.Errorf("compare password: %w", err)}
	}
	if !match {
		return nil, invalidCredentials()
	}
	p.logger.Info("local sign-in", "subject_id", u.SubjectID)
	return p.issue(u.SubjectID, uuid.NewString())
}

// SignOut revokes the session behind rawToken. Expired tokens are accepted
// so a stale client can still sign out.
func (p *Provider) SignOut(_ context.Context, rawToken string) error {
	c, err := p.parse(rawToken, kindAccess, true)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[c.SessionID] = p.now().Add(p.refreshTTL)
	p.pruneLocked()
	return nil
}

// GetSession validates rawToken.
func (p *Provider) GetSession(_ context.Context, rawToken string) (*session.Session, error) {
	c, err := p.parse(rawToken, kindAccess, false)
	if err != nil {
		return nil, err
	}
	if p.isRevoked(c.SessionID) {
		return nil, &session.AuthError{Kind: session.Revoked, Err: errors.New("session signed out")}
	}
	return &session.Session{
		SubjectID: c.Subject,
		IssuedAt:  c.IssuedAt.UTC(),
		ExpiresAt: c.ExpiresAt.UTC(),
		RawToken:  rawToken,
	}, nil
}

// RefreshSession exchanges the refresh token for a new session in the same
// logical sign-in.
func (p *Provider) RefreshSession(ctx context.Context, current *session.Session) (*session.Session, error) {
	if current == nil {
		return nil, session.ErrNoSession
	}
	if current.RefreshToken == "" {
		return p.GetSession(ctx, current.RawToken)
	}
	c, err := p.parse(current.RefreshToken, kindRefresh, false)
	if err != nil {
		return nil, err
	}
	if p.isRevoked(c.SessionID) {
		return nil, &session.AuthError{Kind: session.Revoked, Err: errors.New("session signed out")}
	}
	return p.issue(c.Subject, c.SessionID)
}

// Revoke marks the sign-in with the given session id as signed out.
func (p *Provider) Revoke(sessionID string) {
	p.mu.Lock()
	p.revoked[sessionID] = p.now().Add(p.refreshTTL)
	p.mu.Unlock()
}

// SessionID returns the session id embedded in rawToken.
func (p *Provider) SessionID(rawToken string) (string, error) {
	c, err := p.parse(rawToken, "", true)
	if err != nil {
		return "", err
	}
	return c.SessionID, nil
}

func (p *Provider) issue(subject, sessionID string) (*session.Session, error) {
	now := p.now().Truncate(time.Second)
	access, err := p.sign(subject, sessionID, kindAccess, now, p.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := p.sign(subject, sessionID, kindRefresh, now, p.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &session.Session{
		SubjectID:    subject,
		IssuedAt:     now,
		ExpiresAt:    now.Add(p.accessTTL),
		RawToken:     access,
		RefreshToken: refresh,
	}, nil
}

func (p *Provider) sign(subject, sessionID, kind string, now time.Time, ttl time.Duration) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind:      kind,
		SessionID: sessionID,
	})
	s, err := tok.SignedString(p.secret)
	if err != nil {
		return "", &session.AuthError{Kind: session.Unknown, Err: fmt.Errorf("sign token: %w", err)}
	}
	return s, nil
}

// parse verifies raw. kind, when set, must match the token kind.
func (p *Provider) parse(raw, kind string, allowExpired bool) (*claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(p.now),
	}
	c := &claims{}
	_, err := jwt.ParseWithClaims(raw, c, func(*jwt.Token) (any, error) { return p.secret, nil }, opts...)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired) && allowExpired:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &session.AuthError{Kind: session.Expired, Err: err}
	default:
		return nil, &session.AuthError{Kind: session.Revoked, Err: fmt.Errorf("invalid token: %w", err)}
	}
	if kind != "" && c.Kind != kind {
		return nil, &session.AuthError{Kind: session.Revoked, Err: fmt.Errorf("expected %s token, got %q", kind, c.Kind)}
	}
	if c.SessionID == "" || c.Subject == "" {
		return nil, &session.AuthError{Kind: session.Revoked, Err: errors.New("token missing subject or session")}
	}
	return c, nil
}

func (p *Provider) isRevoked(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.revoked[sessionID]
	return ok
}

// pruneLocked drops revocations whose refresh tokens have expired anyway.
func (p *Provider) pruneLocked() {
	now := p.now()
	for id, until := range p.revoked {
		if now.After(until) {
			delete(p.revoked, id)
		}
	}
}

func invalidCredentials() error {
	return &session.AuthError{Kind: session.Unknown, Err: session.ErrInvalidCredentials}
}

// dummyHash is compared against when the email is unknown.
const dummyHash = "$argon2id$v=19$m=65536,t=1,p=2$c29tZXNhbHRzb21lc2FsdA$4OQXcBkQZkUCsS0f7AnxIgfuT/B4Yx5Xj7CsS1Yx7ac"

// Compile-time interface verification.
var _ session.IdentityProvider = (*Provider)(nil)
