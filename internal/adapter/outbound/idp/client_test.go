package idp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
)

func signedToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "anon-key")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_SignIn(t *testing.T) {
	t.Parallel()

	exp := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	access := signedToken(t, "user-1", exp)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Error("missing apikey header")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "correct" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid_grant", "error_description": "Invalid login credentials",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  access,
			"refresh_token": "r-1",
			"user":          map[string]string{"id": "user-1"},
		})
	})

	sess, err := c.SignIn(context.Background(), session.Credentials{Email: "a@b.c", Password: "correct"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.SubjectID != "user-1" || sess.RefreshToken != "r-1" || !sess.ExpiresAt.Equal(exp) {
		t.Errorf("session = %+v", sess)
	}

	_, err = c.SignIn(context.Background(), session.Credentials{Email: "a@b.c", Password: "wrong"})
	if !errors.Is(err, session.ErrInvalidCredentials) {
		t.Errorf("bad password err = %v", err)
	}
}

func TestClient_RefreshErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   map[string]string
		want   error
	}{
		{"server error is network", http.StatusBadGateway, nil, session.ErrNetworkFailure},
		{"rate limited is network", http.StatusTooManyRequests, nil, session.ErrNetworkFailure},
		{"expired token", http.StatusUnauthorized, map[string]string{"error_code": "session_expired"}, session.ErrExpired},
		{"unauthorized is revoked", http.StatusUnauthorized, map[string]string{"msg": "bad jwt"}, session.ErrRevoked},
		{"unknown refresh token", http.StatusBadRequest, map[string]string{
			"error": "invalid_grant", "error_description": "Invalid Refresh Token: Refresh Token Not Found",
		}, session.ErrRevoked},
		{"other client error", http.StatusUnprocessableEntity, map[string]string{"msg": "nope"}, session.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := c.RefreshSession(context.Background(), &session.Session{SubjectID: "u", RefreshToken: "r"})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_TransportFailureIsNetwork(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.RefreshSession(context.Background(), &session.Session{SubjectID: "u", RefreshToken: "r"})
	if !errors.Is(err, session.ErrNetworkFailure) {
		t.Errorf("err = %v, want network failure", err)
	}
}

func TestClient_RefreshWithoutRefreshTokenRevalidates(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	access := signedToken(t, "user-9", exp)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" || r.Header.Get("Authorization") != "Bearer "+access {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "user-9"})
	})

	sess, err := c.RefreshSession(context.Background(), &session.Session{SubjectID: "user-9", RawToken: access, ExpiresAt: exp})
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if sess.SubjectID != "user-9" || !sess.ExpiresAt.Equal(exp) {
		t.Errorf("session = %+v", sess)
	}

	_, err = c.RefreshSession(context.Background(), &session.Session{SubjectID: "user-9", RawToken: access, ExpiresAt: time.Now().Add(-time.Minute)})
	if !errors.Is(err, session.ErrExpired) {
		t.Errorf("expired without refresh token err = %v", err)
	}
}

func TestClient_SignOut(t *testing.T) {
	t.Parallel()

	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.SignOut(context.Background(), "tok"); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestGrantClient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("subject_id") != "eq.user-1" {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]string{
			{"role": "driver"}, {"role": "personal"}, {"role": "admin"},
		})
	}))
	defer srv.Close()

	g, err := NewGrantClient(srv.URL, "service-key", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	set, err := g.GetGrantedRoles(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetGrantedRoles: %v", err)
	}
	if !set.Equal(role.NewSet(role.Driver, role.Personal)) {
		t.Errorf("set = %v", set.Strings())
	}
	if set, _ := g.GetGrantedRoles(context.Background(), "nobody"); !set.IsEmpty() {
		t.Errorf("unknown subject set = %v", set.Strings())
	}
}
