// Package session keeps the signed-in session of one browser and the
// profile resolved for it in sync with the hosted auth service.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"dermodel/internal/authclient"
	"dermodel/internal/profile"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCallbackPath is where OAuth providers send the browser back to.
const DefaultCallbackPath = "/auth/callback"

const notificationTimeout = 30 * time.Second

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEmailUnavailable = errors.New("no email available for profile update")
)

// AuthClient is the hosted auth client of one browser.
type AuthClient interface {
	GetSession(ctx context.Context) (*authclient.Session, error)
	SignInWithOAuth(ctx context.Context, provider authclient.Provider, redirectTo string) (*authclient.OAuthRedirect, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*authclient.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*authclient.Session, error)
	SignUp(ctx context.Context, p authclient.SignUpParams) (*authclient.SignUpResult, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn authclient.Listener) (unsubscribe func())
}

// ProfileStore reads and writes persisted profiles. Find returns nil with
// no error when no profile exists.
type ProfileStore interface {
	Find(ctx context.Context, id uuid.UUID) (*profile.Profile, error)
	Upsert(ctx context.Context, u profile.Upsert) (*profile.Profile, error)
}

// Phase tells how authoritative a published profile is.
type Phase int

const (
	// PhasePending holds a fallback built from session metadata while the
	// persisted profile is being read.
	PhasePending Phase = iota + 1
	// PhaseResolved holds the persisted profile.
	PhaseResolved
	// PhaseDegraded holds the fallback after the store failed.
	PhaseDegraded
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseResolved:
		return "resolved"
	case PhaseDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ProfileState is the published profile together with its phase.
type ProfileState struct {
	Phase   Phase            `json:"phase"`
	Profile *profile.Profile `json:"profile"`
}

// Snapshot is a consistent read of the manager's state.
type Snapshot struct {
	Session *authclient.Session
	Profile *ProfileState
	Loading bool
}

// Config configures a Manager.
type Config struct {
	Auth         AuthClient
	Store        ProfileStore
	Origin       string // application origin, e.g. "https://dermodel.example"
	CallbackPath string // defaults to DefaultCallbackPath
	Logger       *zap.Logger
	Now          func() time.Time
}

// Manager owns the session and profile of one browser. Construct it with
// NewManager, call Init once, and Close when the browser session ends.
type Manager struct {
	auth         AuthClient
	store        ProfileStore
	origin       string
	callbackPath string
	logger       *zap.Logger
	now          func() time.Time

	// seq orders resolution passes; only the latest may publish.
	seq atomic.Uint64

	mu        sync.RWMutex
	session   *authclient.Session
	profile   *ProfileState
	loading   bool
	observers map[int]func(Snapshot)
	nextObs   int

	lifecycle   sync.Mutex
	unsubscribe func()
}

// NewManager creates a Manager in the loading state.
func NewManager(cfg Config) *Manager {
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = DefaultCallbackPath
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		auth:         cfg.Auth,
		store:        cfg.Store,
		origin:       cfg.Origin,
		callbackPath: cfg.CallbackPath,
		logger:       cfg.Logger,
		now:          cfg.Now,
		loading:      true,
		observers:    make(map[int]func(Snapshot)),
	}
}

// Init subscribes to session changes, loads the existing session and
// resolves its profile. Loading is false once Init returns. A failure to
// read the existing session is logged and treated as signed out; the
// error is returned so the caller can decide whether to keep the Manager.
func (m *Manager) Init(ctx context.Context) error {
	m.lifecycle.Lock()
	if m.unsubscribe != nil {
		m.lifecycle.Unlock()
		return nil
	}
	m.unsubscribe = m.auth.OnAuthStateChange(m.onAuthStateChange)
	m.lifecycle.Unlock()

	s, err := m.auth.GetSession(ctx)
	if err != nil {
		m.logger.Warn("failed to load existing session", zap.Error(err))
		s = nil
	}

	m.setSession(s)
	m.resolve(ctx, s)

	m.update(func() bool {
		m.loading = false
		return true
	})
	return err
}

// Close stops processing session change notifications. A resolution pass
// already running finishes.
func (m *Manager) Close() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = func() {}
	}
}

func (m *Manager) onAuthStateChange(event authclient.Event, s *authclient.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
	defer cancel()

	m.logger.Debug("auth state changed", zap.String("event", string(event)))
	m.setSession(s)
	m.resolve(ctx, s)
}

// Session returns the current session, or nil when signed out.
func (m *Manager) Session() *authclient.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Profile returns the current profile state, or nil when there is none.
func (m *Manager) Profile() *ProfileState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// Loading reports whether the initial session load is still running.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Snapshot returns session, profile and loading read together.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{Session: m.session, Profile: m.profile, Loading: m.loading}
}

// Subscribe calls fn with a snapshot after every state change until the
// returned function is called. fn runs on the goroutine that changed the
// state and must not block.
func (m *Manager) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Settled reports whether no load or profile read is in flight for the
// snapshot's session.
func (s Snapshot) Settled() bool {
	if s.Loading {
		return false
	}
	if s.Session == nil {
		return s.Profile == nil
	}
	return s.Profile != nil && s.Profile.Phase != PhasePending
}

// Await blocks until cond holds for the current state or ctx is done, and
// returns the latest snapshot either way.
func (m *Manager) Await(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := m.Subscribe(func(Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		snap := m.Snapshot()
		if cond(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		case <-changed:
		}
	}
}

// update applies fn under the state lock and, when fn reports a change,
// notifies observers.
func (m *Manager) update(fn func() bool) bool {
	m.mu.Lock()
	if !fn() {
		m.mu.Unlock()
		return false
	}
	snap := m.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	m.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
	return true
}

// publish applies fn only when seq is still the latest resolution.
func (m *Manager) publish(seq uint64, fn func() bool) bool {
	return m.update(func() bool {
		if m.seq.Load() != seq {
			return false
		}
		return fn()
	})
}

func (m *Manager) setSession(s *authclient.Session) {
	m.update(func() bool {
		m.session = s
		return true
	})
}
