package guard

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type staticSource struct{ snap session.Snapshot }

func (s *staticSource) Snapshot() session.Snapshot { return s.snap }

type countingTrigger struct{ n atomic.Int32 }

func (c *countingTrigger) Trigger() { c.n.Add(1) }

type decisionLog struct{ reasons []string }

func (d *decisionLog) RecordDecision(reason string, _ bool) { d.reasons = append(d.reasons, reason) }

func snapshotFor(r role.AccountRole, expiresIn, refreshedAgo time.Duration) session.Snapshot {
	sel := role.Resolve("sub-1", role.NewSet(r), r)
	return session.Snapshot{
		Session: &session.Session{
			SubjectID: "sub-1",
			ExpiresAt: now.Add(expiresIn),
		},
		Selection:     &sel,
		RefreshedAt:   now.Add(-refreshedAgo),
		HasCredential: true,
	}
}

func TestGuard_StalenessTriggersRefresh(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		snap session.Snapshot
		want bool
	}{
		{"fresh", snapshotFor(role.Driver, time.Hour, time.Minute), false},
		{"near expiry", snapshotFor(role.Driver, 30*time.Second, time.Minute), true},
		{"old confirmation", snapshotFor(role.Driver, time.Hour, 20*time.Minute), true},
		{"expired but refreshable", session.Snapshot{HasCredential: true}, true},
		{"nothing held", session.Snapshot{}, false},
		{"degraded", func() session.Snapshot {
			s := snapshotFor(role.Driver, time.Hour, time.Minute)
			s.Degraded = true
			return s
		}(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			trig := &countingTrigger{}
			g := New(&staticSource{snap: tt.snap}, testTable(t),
				WithRefreshTrigger(trig),
				WithGuardClock(func() time.Time { return now }),
				WithStaleness(time.Minute, 15*time.Minute),
			)
			g.Decide("/driver")
			if got := trig.n.Load() == 1; got != tt.want {
				t.Errorf("triggered = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGuard_ReevaluatesEveryCall(t *testing.T) {
	t.Parallel()

	src := &staticSource{snap: snapshotFor(role.Driver, time.Hour, 0)}
	log := &decisionLog{}
	g := New(src, testTable(t),
		WithDecisionRecorder(log),
		WithGuardClock(func() time.Time { return now }),
	)

	if d := g.Decide("/driver/jobs"); !d.Allow {
		t.Fatalf("first decision = %+v", d)
	}

	// The session is revoked in the background between navigations.
	src.snap = session.Snapshot{}
	d := g.Decide("/driver/jobs")
	if d.Allow || d.Destination != "/signin" {
		t.Fatalf("decision after revocation = %+v", d)
	}
	if len(log.reasons) != 2 || log.reasons[1] != ReasonSignInRequired {
		t.Errorf("recorded = %v", log.reasons)
	}
	if g.State().Kind != Unauthenticated {
		t.Errorf("State() = %v", g.State().Kind)
	}
}
