package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/swiftdrop/accountgate/internal/domain/role"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProvider answers RefreshSession through a swappable function.
type fakeProvider struct {
	mu      sync.Mutex
	refresh func(ctx context.Context, cur *Session) (*Session, error)
}

func (p *fakeProvider) SignIn(context.Context, Credentials) (*Session, error) {
	return nil, errors.New("not used")
}
func (p *fakeProvider) SignOut(context.Context, string) error { return nil }
func (p *fakeProvider) GetSession(context.Context, string) (*Session, error) {
	return nil, errors.New("not used")
}
func (p *fakeProvider) RefreshSession(ctx context.Context, cur *Session) (*Session, error) {
	p.mu.Lock()
	fn := p.refresh
	p.mu.Unlock()
	return fn(ctx, cur)
}

func (p *fakeProvider) set(fn func(ctx context.Context, cur *Session) (*Session, error)) {
	p.mu.Lock()
	p.refresh = fn
	p.mu.Unlock()
}

type mapGrants struct {
	mu     sync.Mutex
	grants map[string]role.Set
}

func (g *mapGrants) GetGrantedRoles(_ context.Context, subjectID string) (role.Set, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grants[subjectID], nil
}

type memPersister struct {
	mu      sync.Mutex
	rec     *Record
	clears  int
	history []string
}

func (p *memPersister) SaveSession(_ context.Context, rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rec = &rec
	p.history = append(p.history, "save:"+rec.Session.SubjectID)
	return nil
}

func (p *memPersister) LoadSession(context.Context) (*Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec == nil {
		return nil, nil
	}
	r := *p.rec
	return &r, nil
}

func (p *memPersister) ClearSession(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rec = nil
	p.clears++
	p.history = append(p.history, "clear")
	return nil
}

func (p *memPersister) ClearAll(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rec = nil
	p.clears++
	p.history = append(p.history, "clear-all")
	return nil
}

func newSession(subject string, ttl time.Duration) *Session {
	return &Session{
		SubjectID:    subject,
		IssuedAt:     baseTime,
		ExpiresAt:    baseTime.Add(ttl),
		RawToken:     "access-" + subject,
		RefreshToken: "refresh-" + subject,
	}
}

type fixture struct {
	store    *Store
	provider *fakeProvider
	grants   *mapGrants
	clock    *fakeClock
	persist  *memPersister
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		provider: &fakeProvider{},
		grants: &mapGrants{grants: map[string]role.Set{
			"alice": role.NewSet(role.Personal, role.Driver),
			"bob":   role.NewSet(role.Business),
		}},
		clock:   &fakeClock{now: baseTime},
		persist: &memPersister{},
	}
	f.provider.set(func(_ context.Context, cur *Session) (*Session, error) {
		return newSession(cur.SubjectID, time.Hour), nil
	})
	opts = append([]Option{WithClock(f.clock.Now), WithPersister(f.persist)}, opts...)
	f.store = NewStore(f.provider, role.NewResolver(f.grants, nil), opts...)
	return f
}

func (f *fixture) establish(t *testing.T, subject string) {
	t.Helper()
	if _, err := f.store.Establish(context.Background(), newSession(subject, time.Hour)); err != nil {
		t.Fatalf("Establish(%s): %v", subject, err)
	}
}

func TestStore_GetSessionAbsentWhenExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")
	if f.store.GetSession() == nil {
		t.Fatal("expected session before expiry")
	}

	f.clock.Advance(time.Hour)
	if got := f.store.GetSession(); got != nil {
		t.Errorf("GetSession() = %+v after expiry, want nil", got)
	}
	snap := f.store.Snapshot()
	if snap.Selection != nil {
		t.Error("selection visible without a valid session")
	}
	if !snap.HasCredential {
		t.Error("expired credential should still be refreshable")
	}
}

func TestStore_EstablishResolvesSelection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	snap, err := f.store.Establish(context.Background(), newSession("alice", time.Hour))
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if snap.Selection == nil || snap.Selection.ActiveRole != role.Driver {
		t.Fatalf("Selection = %+v, want driver (first granted)", snap.Selection)
	}
	if f.persist.rec == nil || f.persist.rec.Selection == nil {
		t.Fatal("session not persisted with selection")
	}
}

func TestStore_RefreshKeepsPreviousActiveRole(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")
	if _, err := f.store.Switch(context.Background(), "alice", role.NewSet(role.Personal, role.Driver), role.Personal); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	f.clock.Advance(10 * time.Minute)
	if _, err := f.store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap := f.store.Snapshot()
	if snap.Selection.ActiveRole != role.Personal {
		t.Errorf("ActiveRole = %q, want personal", snap.Selection.ActiveRole)
	}
	if !snap.RefreshedAt.Equal(f.clock.Now()) {
		t.Errorf("RefreshedAt = %v", snap.RefreshedAt)
	}
}

func TestStore_RefreshFailureKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		wantKind       AuthErrorKind
		wantCredential bool
	}{
		{"expired clears", &AuthError{Kind: Expired}, Expired, false},
		{"revoked clears", &AuthError{Kind: Revoked}, Revoked, false},
		{"unclassified clears as unknown", errors.New("weird"), Unknown, false},
		{"network hides but keeps credential", &AuthError{Kind: NetworkFailure}, NetworkFailure, true},
		{"deadline is network", context.DeadlineExceeded, NetworkFailure, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.establish(t, "alice")
			f.provider.set(func(context.Context, *Session) (*Session, error) { return nil, tt.err })

			_, err := f.store.Refresh(context.Background())
			if KindOf(err) != tt.wantKind {
				t.Fatalf("kind = %v, want %v (err %v)", KindOf(err), tt.wantKind, err)
			}
			if got := f.store.GetSession(); got != nil {
				t.Errorf("session visible after %v failure: %+v", tt.wantKind, got)
			}
			if got := f.store.Credential() != nil; got != tt.wantCredential {
				t.Errorf("credential held = %v, want %v", got, tt.wantCredential)
			}
			if tt.wantCredential && !f.store.Snapshot().Degraded {
				t.Error("expected degraded snapshot")
			}
			if !tt.wantCredential && f.persist.rec != nil {
				t.Error("persisted record not cleared")
			}
		})
	}
}

func TestStore_NetworkFailureHidesAndSignalsSignOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")
	var kinds []TransitionKind
	defer f.store.Subscribe(func(tr Transition) { kinds = append(kinds, tr.Kind) })()

	f.provider.set(func(context.Context, *Session) (*Session, error) {
		return nil, &AuthError{Kind: NetworkFailure}
	})
	if _, err := f.store.Refresh(context.Background()); !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("err = %v", err)
	}
	if f.store.GetSession() != nil {
		t.Fatal("session should be hidden")
	}
	if f.store.Credential() == nil {
		t.Fatal("credential should be kept for retry")
	}
	if _, err := f.store.Switch(context.Background(), "alice", role.NewSet(role.Personal), role.Personal); !errors.Is(err, ErrNoSession) {
		t.Errorf("switch on hidden session err = %v, want ErrNoSession", err)
	}

	f.provider.set(func(_ context.Context, cur *Session) (*Session, error) {
		return newSession(cur.SubjectID, time.Hour), nil
	})
	if _, err := f.store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if f.store.GetSession() == nil {
		t.Error("session not restored by successful refresh")
	}
	want := []TransitionKind{SignedOut, SignedIn}
	if len(kinds) != 2 || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestStore_KeepSessionOnNetworkFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithKeepSessionOnNetworkFailure())
	f.establish(t, "alice")
	var kinds []TransitionKind
	defer f.store.Subscribe(func(tr Transition) { kinds = append(kinds, tr.Kind) })()

	f.provider.set(func(context.Context, *Session) (*Session, error) {
		return nil, &AuthError{Kind: NetworkFailure}
	})
	if _, err := f.store.Refresh(context.Background()); !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("err = %v", err)
	}
	snap := f.store.Snapshot()
	if snap.Session == nil || !snap.Degraded {
		t.Fatalf("snapshot = %+v, want degraded last known-good session", snap)
	}
	if len(kinds) != 0 {
		t.Errorf("kinds = %v, want none while the session stays visible", kinds)
	}
}

func TestStore_RefreshOfExpiredSessionSignalsSignIn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")
	f.clock.Advance(2 * time.Hour)

	f.provider.set(func(_ context.Context, cur *Session) (*Session, error) {
		s := newSession(cur.SubjectID, time.Hour)
		s.ExpiresAt = f.clock.Now().Add(time.Hour)
		return s, nil
	})
	var kinds []TransitionKind
	defer f.store.Subscribe(func(tr Transition) { kinds = append(kinds, tr.Kind) })()

	if _, err := f.store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if f.store.GetSession() == nil {
		t.Fatal("refreshed session not visible")
	}
	if len(kinds) != 1 || kinds[0] != SignedIn {
		t.Errorf("kinds = %v, want [SignedIn]", kinds)
	}
}

func TestStore_RestoreOfExpiredRecordIsSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")
	f.clock.Advance(2 * time.Hour)

	restored := NewStore(f.provider, role.NewResolver(f.grants, nil),
		WithClock(f.clock.Now), WithPersister(f.persist))
	var kinds []TransitionKind
	defer restored.Subscribe(func(tr Transition) { kinds = append(kinds, tr.Kind) })()

	ok, err := restored.Restore(context.Background())
	if err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	if restored.GetSession() != nil {
		t.Error("expired record visible after restore")
	}
	restored.Discard(context.Background())
	if len(kinds) != 0 {
		t.Errorf("kinds = %v, want none for a session never visible", kinds)
	}
}

func TestStore_DiscardIf(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")
	stale := f.store.Credential().RawToken

	fresh := newSession("alice", 2*time.Hour)
	fresh.RawToken = "access-alice-2"
	if _, err := f.store.Establish(context.Background(), fresh); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if f.store.DiscardIf(context.Background(), stale) {
		t.Fatal("DiscardIf removed a newer session")
	}
	if got := f.store.GetSession(); got == nil || got.RawToken != "access-alice-2" {
		t.Fatalf("session = %+v, want the newer one", got)
	}
	if !f.store.DiscardIf(context.Background(), "access-alice-2") {
		t.Fatal("DiscardIf with the held token did nothing")
	}
	if f.store.Credential() != nil {
		t.Error("credential still held")
	}
}

func TestStore_RefreshWithoutCredential(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.store.Refresh(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestStore_SupersededRefreshDiscarded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")

	started := make(chan struct{})
	release := make(chan struct{})
	f.provider.set(func(context.Context, *Session) (*Session, error) {
		close(started)
		<-release
		s := newSession("alice", 2*time.Hour)
		s.RawToken = "old"
		return s, nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := f.store.Refresh(context.Background())
		errCh <- err
	}()
	<-started

	f.provider.set(func(context.Context, *Session) (*Session, error) {
		s := newSession("alice", 3*time.Hour)
		s.RawToken = "new"
		return s, nil
	})
	if _, err := f.store.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	close(release)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first refresh err = %v, want ErrSuperseded", err)
	}
	if got := f.store.GetSession().RawToken; got != "new" {
		t.Errorf("RawToken = %q, want newer result", got)
	}
}

func TestStore_DiscardSupersedesInFlightRefresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")

	started := make(chan struct{})
	release := make(chan struct{})
	f.provider.set(func(_ context.Context, cur *Session) (*Session, error) {
		close(started)
		<-release
		return newSession(cur.SubjectID, time.Hour), nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := f.store.Refresh(context.Background())
		errCh <- err
	}()
	<-started
	f.store.Discard(context.Background())
	close(release)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("err = %v, want ErrSuperseded", err)
	}
	if f.store.GetSession() != nil {
		t.Error("late refresh resurrected a discarded session")
	}
}

func TestStore_ReadersSeeStableValueDuringRefresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")
	before := f.store.GetSession()

	started := make(chan struct{})
	release := make(chan struct{})
	f.provider.set(func(_ context.Context, cur *Session) (*Session, error) {
		close(started)
		<-release
		return newSession(cur.SubjectID, 2*time.Hour), nil
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.store.Refresh(context.Background())
	}()
	<-started

	for i := 0; i < 50; i++ {
		snap := f.store.Snapshot()
		if snap.Session == nil || !snap.Session.ExpiresAt.Equal(before.ExpiresAt) {
			t.Fatalf("reader saw %+v during refresh", snap.Session)
		}
		if snap.Selection == nil || snap.Selection.SubjectID != snap.Session.SubjectID {
			t.Fatalf("torn snapshot: %+v", snap)
		}
	}
	close(release)
	<-done
}

func TestStore_SubjectChangeForcesFullClear(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")

	var got []Transition
	unsubscribe := f.store.Subscribe(func(tr Transition) { got = append(got, tr) })
	defer unsubscribe()

	f.provider.set(func(context.Context, *Session) (*Session, error) {
		return newSession("bob", time.Hour), nil
	})
	if _, err := f.store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if len(got) != 1 || got[0].Kind != SubjectChanged {
		t.Fatalf("transitions = %+v, want one SubjectChanged", got)
	}
	if got[0].PreviousSubject != "alice" || got[0].CurrentSubject != "bob" {
		t.Errorf("transition = %+v", got[0])
	}
	sel := f.store.Snapshot().Selection
	if sel.SubjectID != "bob" || sel.ActiveRole != role.Business {
		t.Errorf("selection = %+v", sel)
	}
	last := f.persist.history[len(f.persist.history)-2:]
	if last[0] != "clear-all" || last[1] != "save:bob" {
		t.Errorf("persist history tail = %v, want clear-all then save", last)
	}
}

func TestStore_SignInAfterDiscardClearsPreviousSubject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")
	f.store.Discard(context.Background())
	f.establish(t, "bob")

	last := f.persist.history[len(f.persist.history)-3:]
	if last[0] != "clear" || last[1] != "clear-all" || last[2] != "save:bob" {
		t.Errorf("persist history tail = %v", last)
	}

	f.store.Discard(context.Background())
	f.establish(t, "bob")
	if tail := f.persist.history[len(f.persist.history)-1]; tail != "save:bob" {
		t.Errorf("same subject sign-in wrote %q", tail)
	}
	for _, h := range f.persist.history[len(f.persist.history)-3:] {
		if h == "clear-all" {
			t.Errorf("same subject sign-in cleared all: %v", f.persist.history)
		}
	}
}

func TestStore_SubscribeDeliversEachTransitionOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var kinds []TransitionKind
	unsubscribe := f.store.Subscribe(func(tr Transition) { kinds = append(kinds, tr.Kind) })

	f.establish(t, "alice")
	if _, err := f.store.Refresh(context.Background()); err != nil { // same subject: no transition
		t.Fatalf("Refresh: %v", err)
	}
	f.store.Discard(context.Background())
	f.store.Discard(context.Background()) // already absent: no transition

	want := []TransitionKind{SignedIn, SignedOut}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}

	var late []TransitionKind
	f.store.Subscribe(func(tr Transition) { late = append(late, tr.Kind) })
	if len(late) != 0 {
		t.Error("new subscriber received past transitions")
	}

	unsubscribe()
	unsubscribe()
	f.establish(t, "alice")
	if len(kinds) != 2 {
		t.Error("unsubscribed listener still called")
	}
	if len(late) != 1 {
		t.Errorf("late subscriber got %d events, want 1", len(late))
	}
}

func TestStore_Switch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	granted := role.NewSet(role.Personal, role.Driver)

	if _, err := f.store.Switch(ctx, "alice", granted, role.Personal); !errors.Is(err, ErrNoSession) {
		t.Fatalf("switch without session err = %v", err)
	}

	f.establish(t, "alice")
	if _, err := f.store.Switch(ctx, "bob", granted, role.Personal); !errors.Is(err, role.ErrStaleGrantSet) {
		t.Errorf("stale subject err = %v", err)
	}
	if _, err := f.store.Switch(ctx, "alice", granted, role.Business); !errors.Is(err, role.ErrNotGranted) {
		t.Errorf("ungranted err = %v", err)
	}
	if f.store.Snapshot().Selection.ActiveRole != role.Driver {
		t.Error("failed switch changed state")
	}

	sel, err := f.store.Switch(ctx, "alice", granted, role.Personal)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if sel.ActiveRole != role.Personal || f.store.Snapshot().Selection.ActiveRole != role.Personal {
		t.Errorf("selection = %+v", sel)
	}
}

func TestStore_Restore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.establish(t, "alice")
	if _, err := f.store.Switch(context.Background(), "alice", role.NewSet(role.Personal, role.Driver), role.Personal); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	restored := NewStore(f.provider, role.NewResolver(f.grants, nil),
		WithClock(f.clock.Now), WithPersister(f.persist))
	ok, err := restored.Restore(context.Background())
	if err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	snap := restored.Snapshot()
	if snap.SubjectID() != "alice" || snap.Selection.ActiveRole != role.Personal {
		t.Errorf("restored snapshot = %+v", snap)
	}
	if !snap.RefreshedAt.IsZero() {
		t.Error("restored state should be treated as never refreshed")
	}

	ok, err = restored.Restore(context.Background())
	if err != nil || ok {
		t.Errorf("second Restore = %v, %v, want no-op", ok, err)
	}
}

func TestAuthError_Is(t *testing.T) {
	t.Parallel()

	err := error(&AuthError{Kind: Revoked, Status: 401, Err: errors.New("token revoked")})
	if !errors.Is(err, ErrRevoked) || errors.Is(err, ErrExpired) {
		t.Error("kind matching broken")
	}
	if Classify(err) != err {
		t.Error("Classify should pass AuthError through")
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}
