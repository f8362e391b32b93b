// Package authclient talks to the hosted auth service (a GoTrue-compatible
// REST API) on behalf of one browser session.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"dermodel/internal/jwtauth"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// DefaultSessionTTL bounds how long an unused session stays in storage.
	DefaultSessionTTL = 30 * 24 * time.Hour

	expiryMargin      = 10 * time.Second
	codeVerifierTTL   = 10 * time.Minute
	autoRefreshTick   = 30 * time.Second
	autoRefreshTicks  = 3
	notificationQueue = 16
)

// TokenVerifier validates access tokens. *jwtauth.Verifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*jwtauth.Claims, error)
}

// Config configures a Client.
type Config struct {
	URL        string // e.g. "https://project.supabase.co/auth/v1"
	APIKey     string // project anon key
	StorageKey string
	Storage    Storage
	Verifier   TokenVerifier // optional
	HTTPClient *http.Client
	SessionTTL time.Duration
	Logger     *zap.Logger
}

type notification struct {
	event   Event
	session *Session
}

// Client is the auth client of one browser session. Session state lives in
// Storage; change notifications are delivered in order on a single
// goroutine.
type Client struct {
	baseURL    string
	apiKey     string
	key        string
	storage    Storage
	verifier   TokenVerifier
	httpClient *http.Client
	sessionTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time

	refreshMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	lastToken string

	queue     chan notification
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a client and starts its notification dispatcher.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("auth URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	if cfg.StorageKey == "" {
		return nil, errors.New("storage key is required")
	}
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		key:        cfg.StorageKey,
		storage:    cfg.Storage,
		verifier:   cfg.Verifier,
		httpClient: cfg.HTTPClient,
		sessionTTL: cfg.SessionTTL,
		logger:     cfg.Logger.With(zap.String("storage_key", cfg.StorageKey)),
		now:        time.Now,
		listeners:  make(map[int]Listener),
		queue:      make(chan notification, notificationQueue),
		done:       make(chan struct{}),
	}

	c.wg.Add(1)
	go c.dispatch()
	return c, nil
}

// Close stops the dispatcher. Notifications still queued are dropped; a
// listener call already running completes.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

// OnAuthStateChange registers fn for session change notifications and
// returns a function that unregisters it.
func (c *Client) OnAuthStateChange(fn Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) setLastToken(token string) {
	c.mu.Lock()
	c.lastToken = token
	c.mu.Unlock()
}

func (c *Client) emit(event Event, s *Session) {
	if s != nil {
		c.setLastToken(s.AccessToken)
	} else {
		c.setLastToken("")
	}

	select {
	case c.queue <- notification{event: event, session: s}:
	case <-c.done:
	}
}

func (c *Client) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case n := <-c.queue:
			c.mu.Lock()
			ids := make([]int, 0, len(c.listeners))
			for id := range c.listeners {
				ids = append(ids, id)
			}
			c.mu.Unlock()

			slices.Sort(ids)
			for _, id := range ids {
				c.mu.Lock()
				fn, ok := c.listeners[id]
				c.mu.Unlock()
				if ok {
					fn(n.event, n.session)
				}
			}
		}
	}
}

// GetSession returns the stored session, refreshing it first when the
// access token is about to expire. It returns nil with no error when the
// browser is signed out.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	s, err := c.loadSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}

	if s.ExpiresWithin(c.now(), expiryMargin) {
		return c.refresh(ctx, s.RefreshToken)
	}

	if c.verifier != nil {
		if _, err := c.verifier.Verify(ctx, s.AccessToken); err != nil {
			c.logger.Warn("discarding stored session with invalid access token", zap.Error(err))
			if rmErr := c.storage.RemoveItem(ctx, c.key); rmErr != nil {
				c.logger.Error("failed to remove rejected session", zap.Error(rmErr))
			}
			return nil, fmt.Errorf("%w: %w", ErrSessionRejected, err)
		}
	}

	c.setLastToken(s.AccessToken)
	return s, nil
}

// SignInWithPassword exchanges email and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, body, "", &s); err != nil {
		return nil, err
	}
	if err := c.saveSession(ctx, &s); err != nil {
		return nil, err
	}
	c.emit(EventSignedIn, &s)
	return &s, nil
}

// SignUp registers a new user. The session is only present when the
// project does not require email confirmation.
func (c *Client) SignUp(ctx context.Context, p SignUpParams) (*SignUpResult, error) {
	query := url.Values{}
	if p.RedirectTo != "" {
		query.Set("redirect_to", p.RedirectTo)
	}
	body := map[string]any{"email": p.Email, "password": p.Password}
	if len(p.Data) > 0 {
		body["data"] = p.Data
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", query, body, "", &raw); err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode sign-up response: %w", err)
	}
	if s.AccessToken == "" {
		var u User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("failed to decode sign-up user: %w", err)
		}
		return &SignUpResult{User: u}, nil
	}

	if err := c.saveSession(ctx, &s); err != nil {
		return nil, err
	}
	c.emit(EventSignedIn, &s)
	return &SignUpResult{User: s.User, Session: &s}, nil
}

// SignInWithOAuth starts a PKCE authorization-code flow. The browser must
// be redirected to the returned URL; the provider sends it back to
// redirectTo with a code for ExchangeCodeForSession.
func (c *Client) SignInWithOAuth(ctx context.Context, provider Provider, redirectTo string) (*OAuthRedirect, error) {
	verifier := oauth2.GenerateVerifier()
	if err := c.storage.SetItem(ctx, c.verifierKey(), []byte(verifier), codeVerifierTTL); err != nil {
		return nil, fmt.Errorf("failed to store code verifier: %w", err)
	}

	cfg := oauth2.Config{
		Endpoint: oauth2.Endpoint{AuthURL: c.baseURL + "/authorize"},
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("provider", string(provider)),
	}
	if redirectTo != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_to", redirectTo))
	}

	return &OAuthRedirect{Provider: provider, URL: cfg.AuthCodeURL("", opts...)}, nil
}

// ExchangeCodeForSession completes an OAuth flow started by SignInWithOAuth.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	verifier, err := c.storage.GetItem(ctx, c.verifierKey())
	if err != nil {
		return nil, fmt.Errorf("failed to load code verifier: %w", err)
	}
	if verifier == nil {
		return nil, ErrMissingCodeVerifier
	}

	var s Session
	body := map[string]string{"auth_code": code, "code_verifier": string(verifier)}
	if err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"pkce"}}, body, "", &s); err != nil {
		return nil, err
	}
	if err := c.storage.RemoveItem(ctx, c.verifierKey()); err != nil {
		c.logger.Warn("failed to remove code verifier", zap.Error(err))
	}
	if err := c.saveSession(ctx, &s); err != nil {
		return nil, err
	}
	c.emit(EventSignedIn, &s)
	return &s, nil
}

// RefreshSession forces a refresh of the stored session.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	s, err := c.loadSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}
	return c.refresh(ctx, s.RefreshToken)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if current, err := c.loadSession(ctx); err == nil && current != nil &&
		current.RefreshToken != refreshToken && !current.ExpiresWithin(c.now(), expiryMargin) {
		return current, nil
	}

	var s Session
	body := map[string]string{"refresh_token": refreshToken}
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, body, "", &s)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			c.setLastToken("")
			if rmErr := c.storage.RemoveItem(ctx, c.key); rmErr != nil {
				c.logger.Error("failed to remove stale session", zap.Error(rmErr))
			}
			c.emit(EventSignedOut, nil)
		}
		return nil, err
	}

	if err := c.saveSession(ctx, &s); err != nil {
		return nil, err
	}
	c.emit(EventTokenRefreshed, &s)
	return &s, nil
}

// SignOut revokes the session at the auth service and removes it locally.
// The local session is removed even when the remote call fails.
func (c *Client) SignOut(ctx context.Context) error {
	s, loadErr := c.loadSession(ctx)

	var remoteErr error
	if s != nil {
		err := c.do(ctx, http.MethodPost, "/logout", url.Values{"scope": {"local"}}, nil, s.AccessToken, nil)
		var apiErr *APIError
		if err != nil && !(errors.As(err, &apiErr) && apiErr.IsSessionGone()) {
			remoteErr = err
		}
	}

	c.setLastToken("")
	if err := c.storage.RemoveItem(ctx, c.key); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	c.emit(EventSignedOut, nil)

	if remoteErr != nil {
		return remoteErr
	}
	return loadErr
}

// StartAutoRefresh refreshes the stored session in the background until
// ctx is done.
func (c *Client) StartAutoRefresh(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(autoRefreshTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-ticker.C:
				s, err := c.loadSession(ctx)
				if err != nil || s == nil {
					continue
				}
				if !s.ExpiresWithin(c.now(), autoRefreshTick*autoRefreshTicks) {
					continue
				}
				if _, err := c.refresh(ctx, s.RefreshToken); err != nil {
					c.logger.Warn("background session refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

// Watch follows writes made to this browser's session by other server
// instances and turns them into notifications. It is a no-op for storages
// that cannot report changes.
func (c *Client) Watch(ctx context.Context) error {
	w, ok := c.storage.(Watcher)
	if !ok {
		return nil
	}
	changes, err := w.Watch(ctx, c.key)
	if err != nil {
		return err
	}

	go func() {
		for range changes {
			c.syncFromStorage(ctx)
		}
	}()
	return nil
}

func (c *Client) syncFromStorage(ctx context.Context) {
	s, err := c.loadSession(ctx)
	if err != nil {
		c.logger.Warn("failed to reload session after remote change", zap.Error(err))
		return
	}

	c.mu.Lock()
	last := c.lastToken
	c.mu.Unlock()

	switch {
	case s == nil && last == "":
		return
	case s == nil:
		c.emit(EventSignedOut, nil)
	case s.AccessToken == last:
		return // our own write
	case last == "":
		c.emit(EventSignedIn, s)
	default:
		c.emit(EventTokenRefreshed, s)
	}
}

func (c *Client) verifierKey() string {
	return c.key + "-code-verifier"
}

func (c *Client) loadSession(ctx context.Context) (*Session, error) {
	data, err := c.storage.GetItem(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		c.logger.Warn("removing unreadable stored session", zap.Error(err))
		if rmErr := c.storage.RemoveItem(ctx, c.key); rmErr != nil {
			c.logger.Error("failed to remove unreadable session", zap.Error(rmErr))
		}
		return nil, nil
	}
	return &s, nil
}

func (c *Client) saveSession(ctx context.Context, s *Session) error {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Recorded before the write so the change announcement for it is
	// recognized as ours.
	c.setLastToken(s.AccessToken)
	if err := c.storage.SetItem(ctx, c.key, data, c.sessionTTL); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, bearer string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody apiErrorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(data, &errBody)
		return errBody.toAPIError(resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
