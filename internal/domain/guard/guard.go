package guard

import (
	"log/slog"
	"time"

	"github.com/swiftdrop/accountgate/internal/domain/session"
)

// SnapshotSource provides the last committed session state.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// RefreshTrigger schedules a background refresh without waiting for it.
type RefreshTrigger interface {
	Trigger()
}

// DecisionRecorder observes guard decisions.
type DecisionRecorder interface {
	RecordDecision(reason string, allow bool)
}

// Guard evaluates navigation attempts against the latest committed state.
// Decide never blocks on I/O. When the state looks stale it asks the
// refresher to run in the background, so only later decisions see the
// result.
type Guard struct {
	source        SnapshotSource
	table         *Table
	trigger       RefreshTrigger
	recorder      DecisionRecorder
	logger        *slog.Logger
	now           func() time.Time
	refreshWindow time.Duration
	maxStaleness  time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithRefreshTrigger sets the background refresher.
func WithRefreshTrigger(t RefreshTrigger) Option {
	return func(g *Guard) { g.trigger = t }
}

// WithDecisionRecorder sets the decision observer.
func WithDecisionRecorder(r DecisionRecorder) Option {
	return func(g *Guard) { g.recorder = r }
}

// WithStaleness sets how close to expiry (window) or how long after the last
// confirmation (maxAge) a session is considered stale. Zero disables a check.
func WithStaleness(window, maxAge time.Duration) Option {
	return func(g *Guard) {
		g.refreshWindow = window
		g.maxStaleness = maxAge
	}
}

// WithGuardClock sets the time source.
func WithGuardClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New creates a Guard over source using table.
func New(source SnapshotSource, table *Table, opts ...Option) *Guard {
	g := &Guard{
		source:        source,
		table:         table,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		refreshWindow: time.Minute,
		maxStaleness:  15 * time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide evaluates one navigation attempt.
func (g *Guard) Decide(requested string) Decision {
	snap := g.source.Snapshot()
	if g.trigger != nil && g.Stale(snap) {
		g.trigger.Trigger()
	}
	d := Decide(g.table, requested, StateOf(snap))
	if g.recorder != nil {
		g.recorder.RecordDecision(d.Reason, d.Allow)
	}
	if !d.Allow {
		g.logger.Debug("navigation redirected",
			"path", requested,
			"destination", d.Destination,
			"reason", d.Reason,
		)
	}
	return d
}

// State returns the current guard state.
func (g *Guard) State() State {
	return StateOf(g.source.Snapshot())
}

// Table returns the route table.
func (g *Guard) Table() *Table { return g.table }

// Stale reports whether snap should be re-validated with the provider.
func (g *Guard) Stale(snap session.Snapshot) bool {
	if !snap.HasCredential {
		return false
	}
	if snap.Session == nil || snap.Degraded {
		return true
	}
	now := g.now()
	if g.refreshWindow > 0 && snap.Session.ExpiresAt.Sub(now) <= g.refreshWindow {
		return true
	}
	return g.maxStaleness > 0 && now.Sub(snap.RefreshedAt) >= g.maxStaleness
}
