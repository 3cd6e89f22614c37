package http

import (
	"strings"
	"sync"
	"time"
)

// Default sign-in throttle: failed attempts per email per window.
const (
	defaultSignInMaxFailures = 10
	defaultSignInWindow      = 5 * time.Minute
)

type signInFailures struct {
	count   int
	resetAt time.Time
}

// signInLimiter throttles password guessing. Failed sign-ins are counted per
// lower-cased email in a fixed window; a successful sign-in clears the count.
type signInLimiter struct {
	mu          sync.Mutex
	entries     map[string]*signInFailures
	maxFailures int
	window      time.Duration
	now         func() time.Time
}

func newSignInLimiter(maxFailures int, window time.Duration) *signInLimiter {
	return &signInLimiter{
		entries:     make(map[string]*signInFailures),
		maxFailures: maxFailures,
		window:      window,
		now:         time.Now,
	}
}

// allow reports whether email may attempt a sign-in and, if not, how many
// seconds remain until it may.
func (l *signInLimiter) allow(email string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	e, ok := l.entries[limiterKey(email)]
	if !ok || e.count < l.maxFailures {
		return true, 0
	}
	retryAfter := int(e.resetAt.Sub(now).Seconds()) + 1
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// fail records a rejected sign-in for email.
func (l *signInLimiter) fail(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := limiterKey(email)
	now := l.now()
	e, ok := l.entries[key]
	if !ok || now.After(e.resetAt) {
		l.entries[key] = &signInFailures{count: 1, resetAt: now.Add(l.window)}
		return
	}
	e.count++
}

// succeed clears the failures recorded for email.
func (l *signInLimiter) succeed(email string) {
	l.mu.Lock()
	delete(l.entries, limiterKey(email))
	l.mu.Unlock()
}

func (l *signInLimiter) pruneLocked(now time.Time) {
	for k, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, k)
		}
	}
}

func limiterKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
