package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dermodel/internal/authclient"
	"dermodel/internal/profile"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	aliceID  = uuid.MustParse("5f0c2f8e-8d1c-4a55-9c59-3f2c1d0b7a11")
	bobID    = uuid.MustParse("0b8e6c1a-1111-4c2d-8f00-2a5b9e3c4d22")
	fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func strPtr(s string) *string { return &s }

func newSession(id uuid.UUID, email string, meta map[string]any) *authclient.Session {
	return &authclient.Session{
		AccessToken:  "token-" + id.String(),
		RefreshToken: "refresh-" + id.String(),
		ExpiresAt:    fixedNow.Add(time.Hour).Unix(),
		User: authclient.User{
			ID:           id,
			Email:        email,
			UserMetadata: meta,
		},
	}
}

type fakeAuth struct {
	mu           sync.Mutex
	session      *authclient.Session
	getErr       error
	signInErr    error
	signOutErr   error
	listener     authclient.Listener
	unsubscribed bool

	oauthProvider authclient.Provider
	oauthRedirect string
	signUp        *authclient.SignUpParams
	exchanged     string
	signOuts      int
}

func (f *fakeAuth) GetSession(ctx context.Context) (*authclient.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.getErr
}

func (f *fakeAuth) SignInWithOAuth(ctx context.Context, provider authclient.Provider, redirectTo string) (*authclient.OAuthRedirect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oauthProvider = provider
	f.oauthRedirect = redirectTo
	return &authclient.OAuthRedirect{Provider: provider, URL: "https://auth.example/authorize?provider=" + string(provider)}, nil
}

func (f *fakeAuth) ExchangeCodeForSession(ctx context.Context, code string) (*authclient.Session, error) {
	f.mu.Lock()
	f.exchanged = code
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, email, password string) (*authclient.Session, error) {
	return nil, f.signInErr
}

func (f *fakeAuth) SignUp(ctx context.Context, p authclient.SignUpParams) (*authclient.SignUpResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUp = &p
	return &authclient.SignUpResult{}, nil
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	return f.signOutErr
}

func (f *fakeAuth) OnAuthStateChange(fn authclient.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = fn
	return func() {
		f.mu.Lock()
		f.unsubscribed = true
		f.mu.Unlock()
	}
}

// fire delivers a notification the way the client's dispatcher does, and
// reports whether a listener was still registered.
func (f *fakeAuth) fire(event authclient.Event, s *authclient.Session) bool {
	f.mu.Lock()
	fn, gone := f.listener, f.unsubscribed
	f.mu.Unlock()
	if fn == nil || gone {
		return false
	}
	fn(event, s)
	return true
}

type fakeStore struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*profile.Profile
	findErr   error
	upsertErr error
	finds     int
	upserts   []profile.Upsert
	// findGate, when set for an id, blocks Find until closed.
	findGate map[uuid.UUID]chan struct{}
	// upsertGate, when set, blocks Upsert until closed after signalling
	// upsertEntered.
	upsertGate    chan struct{}
	upsertEntered chan struct{}
}

func newFakeStore(rows ...*profile.Profile) *fakeStore {
	s := &fakeStore{rows: make(map[uuid.UUID]*profile.Profile), findGate: make(map[uuid.UUID]chan struct{})}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *fakeStore) Find(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	s.mu.Lock()
	gate := s.findGate[id]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.rows[id], nil
}

func (s *fakeStore) Upsert(ctx context.Context, u profile.Upsert) (*profile.Profile, error) {
	s.mu.Lock()
	gate, entered := s.upsertGate, s.upsertEntered
	s.mu.Unlock()
	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, u)
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}

	row := &profile.Profile{ID: u.ID, CreatedAt: fixedNow}
	if existing, ok := s.rows[u.ID]; ok {
		copied := *existing
		row = &copied
	}
	row.Email = u.Email
	if v, ok := u.Username.Get(); ok {
		row.Username = v
	}
	if v, ok := u.AvatarURL.Get(); ok {
		row.AvatarURL = v
	}
	if v, ok := u.Bio.Get(); ok {
		row.Bio = v
	}
	if v, ok := u.SkinType.Get(); ok {
		row.SkinType = v
	}
	if v, ok := u.SkinConcerns.Get(); ok {
		row.SkinConcerns = v
	}
	row.UpdatedAt = fixedNow
	s.rows[u.ID] = row
	return row, nil
}

func newTestManager(t *testing.T, auth *fakeAuth, store *fakeStore) (*Manager, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	m := NewManager(Config{
		Auth:   auth,
		Store:  store,
		Origin: "https://dermodel.example",
		Logger: zap.New(core),
		Now:    func() time.Time { return fixedNow },
	})
	t.Cleanup(m.Close)
	return m, logs
}

// recordProfiles captures every published profile state.
func recordProfiles(m *Manager) *[]*ProfileState {
	var mu sync.Mutex
	var states []*ProfileState
	var last *ProfileState
	m.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Profile != last {
			states = append(states, s.Profile)
			last = s.Profile
		}
	})
	return &states
}

var errTransport = errors.New("dial tcp 10.0.0.5:5432: connection refused")
