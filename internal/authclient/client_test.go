package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUserID = uuid.MustParse("5f0c2f8e-8d1c-4a55-9c59-3f2c1d0b7a11")

type fakeAuthServer struct {
	t *testing.T

	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]any
	logout   int
	tokenSeq int
	// status overrides per path
	fail map[string]int
}

func newFakeAuthServer(t *testing.T) (*fakeAuthServer, *httptest.Server) {
	f := &fakeAuthServer{t: t, fail: map[string]int{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAuthServer) session(expiresIn int64) map[string]any {
	f.tokenSeq++
	return map[string]any{
		"access_token":  "access-" + string(rune('a'+f.tokenSeq)),
		"token_type":    "bearer",
		"expires_in":    expiresIn,
		"refresh_token": "refresh-" + string(rune('a'+f.tokenSeq)),
		"user": map[string]any{
			"id":            testUserID.String(),
			"email":         "alice@example.com",
			"user_metadata": map[string]any{"username": "alice"},
		},
	}
}

func (f *fakeAuthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, body)

	assert.Equal(f.t, "anon-key", r.Header.Get("apikey"))

	if status, ok := f.fail[r.URL.Path]; ok {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": status, "error_code": "invalid_credentials", "msg": "Invalid login credentials",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/token":
		_ = json.NewEncoder(w).Encode(f.session(3600))
	case "/signup":
		if body["password"] == "autoconfirm" {
			_ = json.NewEncoder(w).Encode(f.session(3600))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": testUserID.String(), "email": body["email"], "user_metadata": body["data"],
		})
	case "/logout":
		f.logout++
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeAuthServer) last() (*http.Request, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1], f.bodies[len(f.bodies)-1]
}

type eventRecorder struct {
	ch chan Event
}

func recordEvents(c *Client) (*eventRecorder, func()) {
	rec := &eventRecorder{ch: make(chan Event, 16)}
	unsubscribe := c.OnAuthStateChange(func(event Event, s *Session) {
		rec.ch <- event
	})
	return rec, unsubscribe
}

func (r *eventRecorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth event")
		return ""
	}
}

func (r *eventRecorder) none(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.ch:
		t.Fatalf("unexpected auth event %s", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	c, err := New(Config{URL: srv.URL, APIKey: "anon-key", StorageKey: "sb-test-auth-token"})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{APIKey: "k", StorageKey: "s"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://x", StorageKey: "s"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://x", APIKey: "k"})
	assert.Error(t, err)
}

func TestSignInWithPassword(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	events, _ := recordEvents(c)
	ctx := context.Background()

	s, err := c.SignInWithPassword(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, testUserID, s.User.ID)
	assert.NotZero(t, s.ExpiresAt, "expires_at derived from expires_in")

	req, body := fake.last()
	assert.Equal(t, "password", req.URL.Query().Get("grant_type"))
	assert.Equal(t, "alice@example.com", body["email"])

	assert.Equal(t, EventSignedIn, events.next(t))

	stored, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, s.AccessToken, stored.AccessToken)
}

func TestSignInWithPassword_APIError(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	fake.fail["/token"] = http.StatusBadRequest
	c := newTestClient(t, srv)
	events, _ := recordEvents(c)

	_, err := c.SignInWithPassword(context.Background(), "alice@example.com", "wrong")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid_credentials", apiErr.Code)
	assert.Equal(t, "Invalid login credentials", apiErr.Message)

	events.none(t)
}

func TestSignUp_ConfirmationRequired(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	events, _ := recordEvents(c)

	res, err := c.SignUp(context.Background(), SignUpParams{
		Email:      "bob@example.com",
		Password:   "secret123",
		RedirectTo: "https://dermodel.example",
		Data:       map[string]any{"username": "bob"},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	assert.Equal(t, "bob@example.com", res.User.Email)

	req, body := fake.last()
	assert.Equal(t, "https://dermodel.example", req.URL.Query().Get("redirect_to"))
	assert.Equal(t, map[string]any{"username": "bob"}, body["data"])

	events.none(t)
}

func TestSignUp_AutoConfirm(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	events, _ := recordEvents(c)

	res, err := c.SignUp(context.Background(), SignUpParams{Email: "bob@example.com", Password: "autoconfirm"})
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, EventSignedIn, events.next(t))
}

func TestSignInWithOAuth_PKCE(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	redirect, err := c.SignInWithOAuth(ctx, ProviderGoogle, "https://dermodel.example/auth/callback")
	require.NoError(t, err)

	u, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "google", q.Get("provider"))
	assert.Equal(t, "https://dermodel.example/auth/callback", q.Get("redirect_to"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	stored, err := c.storage.GetItem(ctx, c.verifierKey())
	require.NoError(t, err)
	require.NotNil(t, stored)

	_, err = c.ExchangeCodeForSession(ctx, "auth-code-1")
	require.NoError(t, err)

	req, body := fake.last()
	assert.Equal(t, "pkce", req.URL.Query().Get("grant_type"))
	assert.Equal(t, "auth-code-1", body["auth_code"])
	assert.Equal(t, string(stored), body["code_verifier"])

	gone, err := c.storage.GetItem(ctx, c.verifierKey())
	require.NoError(t, err)
	assert.Nil(t, gone, "verifier is single use")
}

func TestExchangeCodeForSession_NoVerifier(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)

	_, err := c.ExchangeCodeForSession(context.Background(), "code")
	assert.ErrorIs(t, err, ErrMissingCodeVerifier)
}

func TestGetSession_RefreshesExpired(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	expired := &Session{AccessToken: "old", RefreshToken: "old-refresh", ExpiresAt: time.Now().Add(-time.Minute).Unix(), User: User{ID: testUserID}}
	require.NoError(t, c.saveSession(ctx, expired))
	events, _ := recordEvents(c)

	s, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "old", s.AccessToken)

	req, body := fake.last()
	assert.Equal(t, "refresh_token", req.URL.Query().Get("grant_type"))
	assert.Equal(t, "old-refresh", body["refresh_token"])
	assert.Equal(t, EventTokenRefreshed, events.next(t))
}

func TestGetSession_RefreshRejected(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	fake.fail["/token"] = http.StatusBadRequest
	c := newTestClient(t, srv)
	ctx := context.Background()

	expired := &Session{AccessToken: "old", RefreshToken: "revoked", ExpiresAt: time.Now().Add(-time.Minute).Unix()}
	require.NoError(t, c.saveSession(ctx, expired))
	events, _ := recordEvents(c)

	s, err := c.GetSession(ctx)
	assert.Error(t, err)
	assert.Nil(t, s)
	assert.Equal(t, EventSignedOut, events.next(t))

	data, err := c.storage.GetItem(ctx, c.key)
	require.NoError(t, err)
	assert.Nil(t, data, "rejected session removed from storage")
}

func TestGetSession_ErrorKinds(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantDropped bool
	}{
		{"refresh refused", http.StatusBadRequest, true},
		{"refresh token revoked", http.StatusUnauthorized, true},
		{"service unavailable", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, srv := newFakeAuthServer(t)
			fake.fail["/token"] = tt.status
			c := newTestClient(t, srv)
			ctx := context.Background()

			expired := &Session{AccessToken: "old", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Minute).Unix()}
			require.NoError(t, c.saveSession(ctx, expired))

			_, err := c.GetSession(ctx)
			require.Error(t, err)
			assert.Equal(t, tt.wantDropped, SessionDropped(err))
		})
	}

	t.Run("storage failure", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, SessionDropped(fmt.Errorf("failed to load session: %w", ctx.Err())))
	})

	t.Run("rejected token", func(t *testing.T) {
		assert.True(t, SessionDropped(fmt.Errorf("%w: %w", ErrSessionRejected, errors.New("token is expired"))))
	})
}

func TestGetSession_Empty(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)

	s, err := c.GetSession(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestSignOut(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.SignInWithPassword(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)
	events, _ := recordEvents(c)

	require.NoError(t, c.SignOut(ctx))

	req, _ := fake.last()
	assert.Equal(t, "/logout", req.URL.Path)
	assert.Contains(t, req.Header.Get("Authorization"), "Bearer access-")
	assert.Equal(t, EventSignedOut, events.next(t))

	s, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSignOut_RemoteFailureStillClearsLocal(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.SignInWithPassword(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)
	fake.mu.Lock()
	fake.fail["/logout"] = http.StatusInternalServerError
	fake.mu.Unlock()

	err = c.SignOut(ctx)
	assert.Error(t, err)

	s, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSignOut_ExpiredRemoteSessionIgnored(t *testing.T) {
	fake, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.SignInWithPassword(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)
	fake.mu.Lock()
	fake.fail["/logout"] = http.StatusUnauthorized
	fake.mu.Unlock()

	assert.NoError(t, c.SignOut(ctx))
}

func TestOnAuthStateChange_Unsubscribe(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	events, unsubscribe := recordEvents(c)
	_, err := c.SignInWithPassword(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, EventSignedIn, events.next(t))

	unsubscribe()
	unsubscribe() // idempotent

	require.NoError(t, c.SignOut(ctx))
	events.none(t)
}

func TestOnAuthStateChange_Ordered(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()
	events, _ := recordEvents(c)

	_, err := c.SignInWithPassword(ctx, "alice@example.com", "hunter22")
	require.NoError(t, err)
	_, err = c.RefreshSession(ctx)
	require.NoError(t, err)
	require.NoError(t, c.SignOut(ctx))

	assert.Equal(t, EventSignedIn, events.next(t))
	assert.Equal(t, EventTokenRefreshed, events.next(t))
	assert.Equal(t, EventSignedOut, events.next(t))
}

func TestSyncFromStorage(t *testing.T) {
	_, srv := newFakeAuthServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()
	events, _ := recordEvents(c)

	// Another instance signs this browser in.
	other := &Session{AccessToken: "elsewhere", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).Unix(), User: User{ID: testUserID}}
	data, err := json.Marshal(other)
	require.NoError(t, err)
	require.NoError(t, c.storage.SetItem(ctx, c.key, data, time.Hour))

	c.syncFromStorage(ctx)
	assert.Equal(t, EventSignedIn, events.next(t))

	// Re-reading the same token is not a change.
	c.syncFromStorage(ctx)
	events.none(t)

	require.NoError(t, c.storage.RemoveItem(ctx, c.key))
	c.syncFromStorage(ctx)
	assert.Equal(t, EventSignedOut, events.next(t))
}

func TestUser_MetadataString(t *testing.T) {
	u := &User{UserMetadata: map[string]any{"full_name": "Alice A", "name": "", "picture": 3}}

	got := u.MetadataString("username", "full_name", "name")
	require.NotNil(t, got)
	assert.Equal(t, "Alice A", *got)
	assert.Nil(t, u.MetadataString("avatar_url", "picture"))
}

func TestMemoryStorage_Expiry(t *testing.T) {
	m := NewMemoryStorage()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.SetItem(ctx, "k", []byte("v"), time.Minute))
	v, err := m.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(2 * time.Minute)
	v, err = m.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}
