package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/swiftdrop/accountgate/internal/domain/session"
)

func TestSignInLimiter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newSignInLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	l.fail("A@example.com")
	if ok, _ := l.allow("a@example.com"); !ok {
		t.Fatal("blocked after one failure")
	}
	l.fail("a@example.com ")
	ok, retry := l.allow("a@example.com")
	if ok || retry != 61 {
		t.Fatalf("allow = %v, %d; want false, 61", ok, retry)
	}
	if ok, _ := l.allow("b@example.com"); !ok {
		t.Error("other email blocked")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := l.allow("a@example.com"); !ok {
		t.Error("still blocked after the window")
	}

	l.fail("c@example.com")
	l.succeed("C@example.com")
	l.fail("c@example.com")
	if ok, _ := l.allow("c@example.com"); !ok {
		t.Error("success did not clear failures")
	}
}

func TestSignIn_Throttled(t *testing.T) {
	t.Parallel()

	svc := &fakeAccount{signInErr: &session.AuthError{Kind: session.Unknown, Err: session.ErrInvalidCredentials}}
	h := NewServer(svc, WithLogger(discardLogger()), WithSignInLimit(2, time.Minute)).Handler()

	body := `{"email":"a@example.com","password":"guess"}`
	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing on throttled response")
	}
}
