package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/swiftdrop/accountgate/internal/domain/session"
)

// Refresh outcomes passed to RefreshRecorder.
const (
	RefreshOK        = "ok"
	RefreshRejected  = "rejected"
	RefreshExhausted = "exhausted"
	RefreshCanceled  = "canceled"
)

// SessionRefresher is the part of the session store the refresher drives.
type SessionRefresher interface {
	Refresh(ctx context.Context) (*session.Session, error)
	Credential() *session.Session
	DiscardIf(ctx context.Context, rawToken string) bool
}

// RefreshRecorder observes completed refresh runs.
type RefreshRecorder interface {
	RecordRefresh(ctx context.Context, result string, elapsed time.Duration)
}

// Refresher runs session refreshes off the navigation path. Network
// failures are retried with exponential backoff; once attempts run out the
// credential the run started with is discarded so the next decision sends
// the user to sign-in. A session established meanwhile is left alone.
// Expired and revoked sessions are never retried.
type Refresher struct {
	target    SessionRefresher
	logger    *slog.Logger
	recorders []RefreshRecorder

	initialInterval time.Duration
	maxInterval     time.Duration
	maxAttempts     uint

	kick      chan struct{}
	stopChan  chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithBackoff sets the retry schedule. attempts counts the first try.
func WithBackoff(initial, max time.Duration, attempts uint) RefresherOption {
	return func(r *Refresher) {
		r.initialInterval = initial
		r.maxInterval = max
		r.maxAttempts = attempts
	}
}

// WithRefreshRecorder adds an observer. May be given more than once.
func WithRefreshRecorder(rec RefreshRecorder) RefresherOption {
	return func(r *Refresher) { r.recorders = append(r.recorders, rec) }
}

// WithRefresherLogger sets the logger.
func WithRefresherLogger(l *slog.Logger) RefresherOption {
	return func(r *Refresher) { r.logger = l }
}

// NewRefresher creates a Refresher for target. Call Start to run it.
func NewRefresher(target SessionRefresher, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		target:          target,
		logger:          slog.Default(),
		initialInterval: 500 * time.Millisecond,
		maxInterval:     10 * time.Second,
		maxAttempts:     5,
		kick:            make(chan struct{}, 1),
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the worker goroutine. It stops when ctx is cancelled or
// Stop is called.
func (r *Refresher) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.loop(ctx)
		}()
	})
}

// Stop stops the worker and waits for an in-flight refresh to finish.
// Safe to call multiple times.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Trigger requests a refresh. Requests made while one is pending coalesce.
func (r *Refresher) Trigger() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// RefreshNow runs a refresh with retries on the calling goroutine.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	return r.run(ctx)
}

func (r *Refresher) loop(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopChan:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-r.kick:
			if err := r.run(runCtx); err != nil {
				r.logger.Debug("background refresh finished with error", "error", err)
			}
		}
	}
}

func (r *Refresher) run(ctx context.Context) error {
	start := time.Now()
	var token string
	if cred := r.target.Credential(); cred != nil {
		token = cred.RawToken
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := r.target.Refresh(ctx)
		switch {
		case err == nil, errors.Is(err, session.ErrSuperseded):
			return struct{}{}, nil
		case errors.Is(err, session.ErrNetworkFailure):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Warn("session refresh failed, retrying", "error", err, "retry_in", wait)
		}),
	)

	result := RefreshOK
	switch {
	case err == nil:
	case ctx.Err() != nil:
		result = RefreshCanceled
	case errors.Is(err, session.ErrNetworkFailure):
		result = RefreshExhausted
		if token != "" && r.target.DiscardIf(context.WithoutCancel(ctx), token) {
			r.logger.Warn("session refresh retries exhausted, signed out locally", "error", err)
		} else {
			r.logger.Warn("session refresh retries exhausted, newer session kept", "error", err)
		}
	default:
		result = RefreshRejected
		r.logger.Info("session refresh rejected", "kind", session.KindOf(err).String())
	}
	for _, rec := range r.recorders {
		rec.RecordRefresh(ctx, result, time.Since(start))
	}
	return err
}
