package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swiftdrop/accountgate/internal/domain/role"
)

// state is one committed version of the store. It is never mutated after
// being published through Store.current.
type state struct {
	cred        *Session
	sel         *role.Selection
	fingerprint uint64
	refreshedAt time.Time
	degraded    bool
	// suspended keeps cred for a retry while hiding it from readers.
	suspended bool
}

// Store is the single writer of the client session and its role selection.
//
// Readers use GetSession and Snapshot, which never block on I/O and always
// observe a whole commit. Writers (Refresh, Establish, Switch, Discard[If],
// Restore) are serialized; network calls happen outside the commit lock.
type Store struct {
	provider  IdentityProvider
	resolver  *role.Resolver
	persister Persister
	logger    *slog.Logger
	now       func() time.Time

	keepOnNetworkFailure bool

	current atomic.Pointer[state]

	// mu serializes commits and guards ticket and owner.
	mu     sync.Mutex
	ticket uint64
	// owner is the subject whose data the persister may still hold. It
	// survives Discard so the next sign-in of another subject wipes it.
	owner string
	// notifyMu keeps listener delivery in commit order.
	notifyMu sync.Mutex

	listenersMu  sync.RWMutex
	listeners    map[uint64]Listener
	nextListener uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPersister mirrors every commit into p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeepSessionOnNetworkFailure keeps the last known-good session visible,
// marked degraded, when a refresh fails with a network error. By default the
// session is hidden from readers until a refresh succeeds; the credential is
// held either way so the retry can restore it.
func WithKeepSessionOnNetworkFailure() Option {
	return func(s *Store) { s.keepOnNetworkFailure = true }
}

// NewStore creates an empty Store.
func NewStore(provider IdentityProvider, resolver *role.Resolver, opts ...Option) *Store {
	s := &Store{
		provider:  provider,
		resolver:  resolver,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&state{})
	return s
}

// GetSession returns a copy of the cached session, or nil when it is absent
// or expired.
func (s *Store) GetSession() *Session {
	return s.Snapshot().Session
}

// Snapshot returns the current state taken from a single commit.
func (s *Store) Snapshot() Snapshot {
	st := s.current.Load()
	snap := Snapshot{
		RefreshedAt:   st.refreshedAt,
		Degraded:      st.degraded,
		HasCredential: st.cred != nil,
	}
	if visibleSubject(st, s.now()) == "" {
		return snap
	}
	snap.Session = st.cred.Clone()
	if st.sel != nil {
		sel := *st.sel
		snap.Selection = &sel
	}
	return snap
}

// Credential returns the held credential even when it is expired or
// suspended, for sign-out and refresh. Nil when nothing is held.
func (s *Store) Credential() *Session {
	return s.current.Load().cred.Clone()
}

// Refresh re-validates the held credential with the identity provider and
// re-resolves the role selection.
//
// Expired, Revoked and Unknown failures clear the session. A NetworkFailure
// keeps the credential for a retry, marks the store degraded and hides the
// session unless WithKeepSessionOnNetworkFailure is set. A result
// that arrives after a newer Refresh, Establish or Discard started is dropped
// and ErrSuperseded is returned.
func (s *Store) Refresh(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	s.ticket++
	ticket := s.ticket
	cur := s.current.Load()
	s.mu.Unlock()

	if cur.cred == nil {
		return nil, ErrNoSession
	}

	fresh, err := s.provider.RefreshSession(ctx, cur.cred.Clone())
	var granted role.Set
	if err == nil {
		if fresh == nil || fresh.SubjectID == "" {
			err = &AuthError{Kind: Unknown, Err: errors.New("provider returned an empty session")}
		} else if granted, err = s.resolver.Granted(ctx, fresh.SubjectID); err != nil {
			// The session is fine but its projection cannot be computed.
			err = &AuthError{Kind: NetworkFailure, Err: err}
		}
	}

	s.mu.Lock()
	if ticket != s.ticket {
		s.mu.Unlock()
		s.logger.Debug("refresh result discarded", "reason", "superseded")
		return nil, ErrSuperseded
	}
	prev := s.current.Load()

	if err != nil {
		authErr := Classify(err)
		next := &state{}
		if authErr.Kind == NetworkFailure {
			next = &state{
				cred:        prev.cred,
				sel:         prev.sel,
				fingerprint: prev.fingerprint,
				refreshedAt: prev.refreshedAt,
				degraded:    true,
				suspended:   !s.keepOnNetworkFailure,
			}
		}
		tr := s.commitLocked(ctx, prev, next)
		s.finishLocked(tr)
		s.logger.Warn("session refresh failed", "kind", authErr.Kind.String(), "error", authErr)
		return nil, authErr
	}

	var previous role.AccountRole
	if prev.cred != nil && prev.cred.SubjectID == fresh.SubjectID && prev.sel != nil {
		previous = prev.sel.ActiveRole
	}
	tr := s.commitLocked(ctx, prev, s.resolvedState(fresh, granted, previous))
	s.finishLocked(tr)
	return fresh.Clone(), nil
}

// Establish commits a freshly signed-in session. Granted roles are fetched
// before the commit; nothing is committed if that fails.
func (s *Store) Establish(ctx context.Context, sess *Session) (Snapshot, error) {
	if sess == nil || sess.SubjectID == "" {
		return Snapshot{}, ErrNoSession
	}
	granted, err := s.resolver.Granted(ctx, sess.SubjectID)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	s.ticket++
	prev := s.current.Load()
	var previous role.AccountRole
	if prev.cred != nil && prev.cred.SubjectID == sess.SubjectID && prev.sel != nil {
		previous = prev.sel.ActiveRole
	}
	tr := s.commitLocked(ctx, prev, s.resolvedState(sess, granted, previous))
	s.finishLocked(tr)
	return s.Snapshot(), nil
}

// Switch commits target as the active role for subjectID using the freshly
// fetched granted set. It fails with StaleGrantSet when the held session no
// longer belongs to subjectID, and with NotGranted when target is not in
// granted. On failure nothing changes.
func (s *Store) Switch(ctx context.Context, subjectID string, granted role.Set, target role.AccountRole) (role.Selection, error) {
	s.mu.Lock()
	prev := s.current.Load()
	if visibleSubject(prev, s.now()) == "" {
		s.mu.Unlock()
		return role.Selection{}, ErrNoSession
	}
	if prev.cred.SubjectID != subjectID {
		s.mu.Unlock()
		return role.Selection{}, &role.SwitchError{Kind: role.StaleGrantSet, Target: target}
	}
	if !granted.Contains(target) {
		s.mu.Unlock()
		return role.Selection{}, &role.SwitchError{Kind: role.NotGranted, Target: target}
	}

	sel := role.Resolve(subjectID, granted, target)
	next := &state{
		cred:        prev.cred,
		sel:         &sel,
		fingerprint: granted.Fingerprint(),
		refreshedAt: prev.refreshedAt,
		degraded:    prev.degraded,
	}
	tr := s.commitLocked(ctx, prev, next)
	s.finishLocked(tr)
	return sel, nil
}

// Discard wipes the local session and selection. It is idempotent and
// supersedes any in-flight refresh.
func (s *Store) Discard(ctx context.Context) {
	s.mu.Lock()
	s.ticket++
	prev := s.current.Load()
	tr := s.commitLocked(ctx, prev, &state{})
	s.finishLocked(tr)
}

// DiscardIf wipes the local session only while the held credential still
// carries rawToken. It reports whether anything was discarded. Callers that
// decided to discard based on an earlier credential use it so a session
// established in the meantime survives.
func (s *Store) DiscardIf(ctx context.Context, rawToken string) bool {
	s.mu.Lock()
	prev := s.current.Load()
	if prev.cred == nil || prev.cred.RawToken != rawToken {
		s.mu.Unlock()
		return false
	}
	s.ticket++
	tr := s.commitLocked(ctx, prev, &state{})
	s.finishLocked(tr)
	return true
}

// Restore loads the persisted record without contacting the provider. It
// does nothing when the store already holds a credential or nothing was
// persisted. The restored state is treated as stale.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	if s.persister == nil {
		return false, nil
	}
	rec, err := s.persister.LoadSession(ctx)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Session.SubjectID == "" {
		return false, nil
	}

	s.mu.Lock()
	prev := s.current.Load()
	if prev.cred != nil {
		s.mu.Unlock()
		return false, nil
	}
	s.ticket++
	sess := rec.Session
	next := &state{cred: &sess, fingerprint: rec.GrantFingerprint}
	if rec.Selection != nil && rec.Selection.SubjectID == sess.SubjectID {
		sel := role.Resolve(sess.SubjectID, rec.Selection.GrantedRoles, rec.Selection.ActiveRole)
		next.sel = &sel
	} else {
		sel := role.Resolve(sess.SubjectID, role.Set{}, "")
		next.sel = &sel
	}
	s.current.Store(next)
	if s.owner == "" {
		s.owner = sess.SubjectID
	}
	tr := transitionBetween(prev, next, s.now())
	s.finishLocked(tr)
	s.logger.Info("session restored", "subject_id", sess.SubjectID)
	return true, nil
}

// Subscribe registers l for future transitions. The returned function
// unregisters it and is safe to call more than once.
func (s *Store) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Store) resolvedState(sess *Session, granted role.Set, previous role.AccountRole) *state {
	sel := role.Resolve(sess.SubjectID, granted, previous)
	return &state{
		cred:        sess.Clone(),
		sel:         &sel,
		fingerprint: granted.Fingerprint(),
		refreshedAt: s.now(),
	}
}

// commitLocked publishes next and mirrors it to the persister.
// Must be called with s.mu held.
func (s *Store) commitLocked(ctx context.Context, prev, next *state) *Transition {
	s.current.Store(next)
	tr := transitionBetween(prev, next, s.now())
	s.persistLocked(ctx, next)
	if tr != nil {
		s.logger.Info("session transition",
			"kind", tr.Kind.String(),
			"previous_subject", tr.PreviousSubject,
			"subject_id", tr.CurrentSubject,
		)
	}
	return tr
}

func (s *Store) persistLocked(ctx context.Context, next *state) {
	if s.persister == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if next.cred == nil {
		if err := s.persister.ClearSession(ctx); err != nil {
			s.logger.Warn("failed to clear persisted session", "error", err)
		}
		return
	}
	if s.owner != "" && s.owner != next.cred.SubjectID {
		// Nothing of the previous subject may outlive a subject change.
		if err := s.persister.ClearAll(ctx); err != nil {
			s.logger.Warn("failed to clear previous subject data",
				"previous_subject", s.owner, "error", err)
		}
	}
	s.owner = next.cred.SubjectID
	rec := Record{
		Session:          *next.cred,
		Selection:        next.sel,
		GrantFingerprint: next.fingerprint,
		SavedAt:          s.now(),
	}
	if err := s.persister.SaveSession(ctx, rec); err != nil {
		s.logger.Warn("failed to persist session", "subject_id", next.cred.SubjectID, "error", err)
	}
}

// finishLocked releases s.mu and delivers tr. Holding notifyMu across the
// hand-off keeps deliveries in commit order.
func (s *Store) finishLocked(tr *Transition) {
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	if tr == nil {
		return
	}
	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(*tr)
	}
}

// visibleSubject returns the subject readers can see in st, or "" when the
// credential is absent, suspended or expired at now.
func visibleSubject(st *state, now time.Time) string {
	if st.cred == nil || st.suspended || st.cred.IsExpired(now) {
		return ""
	}
	return st.cred.SubjectID
}

// transitionBetween derives the transition from what readers see before and
// after a commit, not from whether a credential is held.
func transitionBetween(prev, next *state, at time.Time) *Transition {
	before, after := visibleSubject(prev, at), visibleSubject(next, at)
	switch {
	case before == after:
		return nil
	case before == "":
		return &Transition{Kind: SignedIn, CurrentSubject: after, At: at}
	case after == "":
		return &Transition{Kind: SignedOut, PreviousSubject: before, At: at}
	default:
		return &Transition{Kind: SubjectChanged, PreviousSubject: before, CurrentSubject: after, At: at}
	}
}
