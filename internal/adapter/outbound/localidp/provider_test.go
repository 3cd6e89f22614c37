package localidp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/swiftdrop/accountgate/internal/domain/session"
)

var cheapParams = &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newTestProvider(t *testing.T, now *time.Time) *Provider {
	t.Helper()
	hash, err := argon2id.CreateHash("s3cret", cheapParams)
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(Config{
		Secret:     []byte(strings.Repeat("k", 32)),
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Users:      []User{{SubjectID: "user-1", Email: "Alice@Example.com", PasswordHash: hash}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if now != nil {
		p.now = func() time.Time { return *now }
	}
	return p
}

func TestNew_RejectsWeakSecret(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Secret: []byte("short")}, nil); !errors.Is(err, ErrWeakSecret) {
		t.Errorf("err = %v", err)
	}
}

func TestProvider_SignIn(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, nil)
	ctx := context.Background()

	sess, err := p.SignIn(ctx, session.Credentials{Email: "alice@example.com", Password: "s3cret"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.SubjectID != "user-1" || sess.RefreshToken == "" || sess.RawToken == "" {
		t.Errorf("session = %+v", sess)
	}

	for _, creds := range []session.Credentials{
		{Email: "alice@example.com", Password: "wrong"},
		{Email: "nobody@example.com", Password: "s3cret"},
	} {
		if _, err := p.SignIn(ctx, creds); !errors.Is(err, session.ErrInvalidCredentials) {
			t.Errorf("SignIn(%s) err = %v", creds.Email, err)
		}
	}
}

func TestProvider_RefreshAndSignOut(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, nil)
	ctx := context.Background()
	sess, err := p.SignIn(ctx, session.Credentials{Email: "alice@example.com", Password: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}

	renewed, err := p.RefreshSession(ctx, sess)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if renewed.SubjectID != "user-1" {
		t.Errorf("renewed = %+v", renewed)
	}
	if got, err := p.GetSession(ctx, renewed.RawToken); err != nil || got.SubjectID != "user-1" {
		t.Errorf("GetSession = %+v, %v", got, err)
	}

	if err := p.SignOut(ctx, sess.RawToken); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	// Signing out revokes every token of the sign-in, including renewed ones.
	if _, err := p.RefreshSession(ctx, renewed); !errors.Is(err, session.ErrRevoked) {
		t.Errorf("refresh after sign-out err = %v", err)
	}
	if _, err := p.GetSession(ctx, renewed.RawToken); !errors.Is(err, session.ErrRevoked) {
		t.Errorf("GetSession after sign-out err = %v", err)
	}
}

func TestProvider_Expiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newTestProvider(t, &now)
	ctx := context.Background()
	sess, err := p.SignIn(ctx, session.Credentials{Email: "alice@example.com", Password: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := p.GetSession(ctx, sess.RawToken); !errors.Is(err, session.ErrExpired) {
		t.Errorf("expired access err = %v", err)
	}
	if _, err := p.RefreshSession(ctx, sess); err != nil {
		t.Errorf("refresh with live refresh token: %v", err)
	}

	now = now.Add(48 * time.Hour)
	if _, err := p.RefreshSession(ctx, sess); !errors.Is(err, session.ErrExpired) {
		t.Errorf("expired refresh err = %v", err)
	}
	// Expired access tokens can still be signed out.
	if err := p.SignOut(ctx, sess.RawToken); err != nil {
		t.Errorf("SignOut expired: %v", err)
	}
}

func TestProvider_RejectsForeignAndSwappedTokens(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, nil)
	ctx := context.Background()
	sess, err := p.SignIn(ctx, session.Credentials{Email: "alice@example.com", Password: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.GetSession(ctx, sess.RefreshToken); !errors.Is(err, session.ErrRevoked) {
		t.Errorf("refresh token used as access err = %v", err)
	}

	other := newTestProvider(t, nil)
	other.secret = []byte(strings.Repeat("z", 32))
	if _, err := other.GetSession(ctx, sess.RawToken); !errors.Is(err, session.ErrRevoked) {
		t.Errorf("foreign signature err = %v", err)
	}
}
