package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/swiftdrop/accountgate/internal/adapter/outbound/localidp"
	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
)

func newLocalProvider(t *testing.T) *localidp.Provider {
	t.Helper()
	hash, err := argon2id.CreateHash("correct horse", &argon2id.Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		t.Fatalf("CreateHash: %v", err)
	}
	p, err := localidp.New(localidp.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Users:  []localidp.User{{SubjectID: "subj-1", Email: "rider@example.com", PasswordHash: hash}},
	}, quietLogger)
	if err != nil {
		t.Fatalf("localidp.New: %v", err)
	}
	return p
}

func TestSignIn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "personal", "business")
	svc := NewSignInService(newLocalProvider(t), f.store, quietLogger)

	snap, err := svc.SignIn(context.Background(), session.Credentials{Email: "rider@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if !snap.Authenticated() || snap.SubjectID() != "subj-1" {
		t.Fatalf("snapshot = %+v, want authenticated subj-1", snap)
	}
	if got := snap.Selection.ActiveRole; got != role.Business {
		t.Errorf("ActiveRole = %q, want business", got)
	}
	if snap.Session.ExpiresAt.Before(time.Now()) {
		t.Errorf("issued session already expired")
	}
}

func TestSignIn_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		creds   session.Credentials
		wantErr error
	}{
		{name: "wrong password", creds: session.Credentials{Email: "rider@example.com", Password: "nope"}, wantErr: session.ErrInvalidCredentials},
		{name: "unknown email", creds: session.Credentials{Email: "other@example.com", Password: "nope"}, wantErr: session.ErrInvalidCredentials},
		{name: "malformed email", creds: session.Credentials{Email: "rider", Password: "x"}, wantErr: ErrInvalidSignInInput},
		{name: "empty password", creds: session.Credentials{Email: "rider@example.com"}, wantErr: ErrInvalidSignInInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, "personal")
			svc := NewSignInService(newLocalProvider(t), f.store, quietLogger)
			_, err := svc.SignIn(context.Background(), tt.creds)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SignIn error = %v, want %v", err, tt.wantErr)
			}
			if f.store.GetSession() != nil {
				t.Error("store should hold no session after a rejected sign-in")
			}
		})
	}
}
