// Package session holds the client-side authentication session and the
// single-writer Store that owns it.
package session

import (
	"time"

	"github.com/swiftdrop/accountgate/internal/domain/role"
)

// Session is the proof of authentication issued by the identity provider.
type Session struct {
	// SubjectID identifies the authenticated subject.
	SubjectID string `json:"subject_id"`
	// IssuedAt is when the provider issued the access token (UTC).
	IssuedAt time.Time `json:"issued_at"`
	// ExpiresAt is when the access token stops being valid (UTC).
	ExpiresAt time.Time `json:"expires_at"`
	// RawToken is the opaque access token.
	RawToken string `json:"raw_token"`
	// RefreshToken renews the session without re-authenticating. May be empty.
	RefreshToken string `json:"refresh_token,omitempty"`
}

// IsExpired reports whether the session is no longer valid at now.
// A session expiring exactly at now is expired.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Clone returns a copy of s, or nil for a nil session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Credentials are the sign-in inputs passed to the identity provider.
type Credentials struct {
	Email    string
	Password string
}

// Record is the persisted form of the client state for one subject. The
// selection is stored alongside the session it was derived from and never
// on its own.
type Record struct {
	Session          Session         `json:"session"`
	Selection        *role.Selection `json:"selection,omitempty"`
	GrantFingerprint uint64          `json:"grant_fingerprint,omitempty"`
	SavedAt          time.Time       `json:"saved_at"`
}

// Snapshot is a consistent view of the store taken from a single commit.
type Snapshot struct {
	// Session is nil when absent, expired or hidden after a network failure.
	Session *Session
	// Selection is nil whenever Session is nil.
	Selection *role.Selection
	// RefreshedAt is when the session was last confirmed by the provider.
	RefreshedAt time.Time
	// Degraded is set after a refresh failed with a network error. The
	// credential is still held for a retry.
	Degraded bool
	// HasCredential reports whether a credential (possibly expired) is held
	// that a refresh could renew.
	HasCredential bool
}

// Authenticated reports whether the snapshot holds a valid session.
func (s Snapshot) Authenticated() bool { return s.Session != nil }

// SubjectID returns the subject of the valid session, or "".
func (s Snapshot) SubjectID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.SubjectID
}

// TransitionKind classifies a session transition.
type TransitionKind int

const (
	// SignedIn is absent to present.
	SignedIn TransitionKind = iota + 1
	// SignedOut is present to absent.
	SignedOut
	// SubjectChanged is present to present with a different subject.
	SubjectChanged
)

func (k TransitionKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	case SubjectChanged:
		return "subject_changed"
	}
	return "unknown"
}

// Transition is delivered to subscribers once per session transition.
type Transition struct {
	Kind            TransitionKind
	PreviousSubject string
	CurrentSubject  string
	At              time.Time
}

// Listener receives transitions. Listeners run on the committing goroutine
// and must not call Store methods that commit.
type Listener func(Transition)
