package handler

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"dermodel/internal/authclient"
	"dermodel/internal/catalog"
	"dermodel/internal/profile"
	"dermodel/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var userID = userIDFor("alice@example.com")

func userIDFor(email string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email))
}

// newAuthSession returns a session whose user id is derived from email.
// Tokens differ on every call, like repeated sign-ins.
func newAuthSession(email string) *authclient.Session {
	return &authclient.Session{
		AccessToken:  "access-" + uuid.NewString(),
		RefreshToken: "refresh-" + uuid.NewString(),
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User: authclient.User{
			ID:           userIDFor(email),
			Email:        email,
			UserMetadata: map[string]any{"full_name": "Alice", "avatar_url": "a.png"},
		},
	}
}

// fakeAuth delivers notifications asynchronously like the real client.
type fakeAuth struct {
	mu            sync.Mutex
	session       *authclient.Session
	listener      authclient.Listener
	signInErr     error
	signOutErr    error
	signUpSession bool
	signUp        *authclient.SignUpParams
	codes         []string
	// notifyDelay holds back notifications, like a slow dispatcher.
	notifyDelay time.Duration
}

func (f *fakeAuth) GetSession(ctx context.Context) (*authclient.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeAuth) SignInWithOAuth(ctx context.Context, provider authclient.Provider, redirectTo string) (*authclient.OAuthRedirect, error) {
	return &authclient.OAuthRedirect{
		Provider: provider,
		URL:      "https://auth.example/authorize?provider=" + string(provider) + "&redirect_to=" + url.QueryEscape(redirectTo),
	}, nil
}

func (f *fakeAuth) ExchangeCodeForSession(ctx context.Context, code string) (*authclient.Session, error) {
	f.mu.Lock()
	f.codes = append(f.codes, code)
	f.mu.Unlock()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	s := newAuthSession("alice@example.com")
	f.notify(authclient.EventSignedIn, s)
	return s, nil
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, email, password string) (*authclient.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	s := newAuthSession(email)
	f.notify(authclient.EventSignedIn, s)
	return s, nil
}

func (f *fakeAuth) SignUp(ctx context.Context, p authclient.SignUpParams) (*authclient.SignUpResult, error) {
	f.mu.Lock()
	f.signUp = &p
	f.mu.Unlock()
	if f.signUpSession {
		s := newAuthSession(p.Email)
		f.notify(authclient.EventSignedIn, s)
		return &authclient.SignUpResult{User: s.User, Session: s}, nil
	}
	return &authclient.SignUpResult{User: authclient.User{ID: userIDFor(p.Email), Email: p.Email}}, nil
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	f.notify(authclient.EventSignedOut, nil)
	return f.signOutErr
}

func (f *fakeAuth) OnAuthStateChange(fn authclient.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = fn
	return func() {
		f.mu.Lock()
		f.listener = nil
		f.mu.Unlock()
	}
}

func (f *fakeAuth) notify(event authclient.Event, s *authclient.Session) {
	f.mu.Lock()
	f.session = s
	fn, delay := f.listener, f.notifyDelay
	f.mu.Unlock()
	if fn != nil {
		go func() {
			time.Sleep(delay)
			fn(event, s)
		}()
	}
}

type fakeProfiles struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*profile.Profile
}

func (s *fakeProfiles) Find(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id], nil
}

func (s *fakeProfiles) Upsert(ctx context.Context, u profile.Upsert) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = map[uuid.UUID]*profile.Profile{}
	}
	row := &profile.Profile{ID: u.ID}
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
	s.rows[u.ID] = row
	return row, nil
}

type fakeCatalog struct {
	ingredients []*catalog.Ingredient
	products    map[string][]*catalog.Product
	papers      map[string][]*catalog.Paper
	err         error
	gotSearch   string
	gotLimit    int
	gotOffset   int
}

func (c *fakeCatalog) ListIngredients(ctx context.Context, search string, limit, offset int) ([]*catalog.Ingredient, error) {
	c.gotSearch, c.gotLimit, c.gotOffset = search, limit, offset
	return c.ingredients, c.err
}

func (c *fakeCatalog) ProductsForIngredient(ctx context.Context, name string) ([]*catalog.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	products, ok := c.products[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return products, nil
}

func (c *fakeCatalog) PapersForIngredient(ctx context.Context, name string) ([]*catalog.Paper, error) {
	if c.err != nil {
		return nil, c.err
	}
	papers, ok := c.papers[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return papers, nil
}

type fakeDB struct{ err error }

func (d fakeDB) Health(ctx context.Context) error { return d.err }

type testServer struct {
	mux     *http.ServeMux
	auth    *fakeAuth
	store   *fakeProfiles
	catalog *fakeCatalog
	manager *session.Manager
}

func newTestServer(t *testing.T, auth *fakeAuth) *testServer {
	t.Helper()
	return newTestServerSettle(t, auth, 200*time.Millisecond)
}

func newTestServerSettle(t *testing.T, auth *fakeAuth, settle time.Duration) *testServer {
	t.Helper()
	ts := &testServer{
		mux:     http.NewServeMux(),
		auth:    auth,
		store:   &fakeProfiles{},
		catalog: &fakeCatalog{},
	}
	ts.manager = session.NewManager(session.Config{
		Auth:   auth,
		Store:  ts.store,
		Origin: "https://dermodel.test",
		Logger: zap.NewNop(),
	})
	ts.manager.Init(context.Background())
	t.Cleanup(ts.manager.Close)

	RegisterRoutes(ts.mux, Deps{
		DB:      fakeDB{},
		Catalog: ts.catalog,
		Sessions: func(h http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), ts.manager)))
			})
		},
		SettleTimeout: settle,
		Logger:        zap.NewNop(),
	})
	return ts
}
