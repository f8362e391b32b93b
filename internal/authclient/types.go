package authclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Event names a session change notification.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// Provider is an external OAuth identity provider.
type Provider string

const ProviderGoogle Provider = "google"

var (
	ErrNoSession           = errors.New("no active session")
	ErrMissingCodeVerifier = errors.New("no PKCE code verifier stored for this browser")
	ErrSessionRejected     = errors.New("stored session rejected")
)

// User is the auth service's user record.
type User struct {
	ID           uuid.UUID      `json:"id"`
	Aud          string         `json:"aud,omitempty"`
	Role         string         `json:"role,omitempty"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// MetadataString returns the first non-empty string value among keys.
func (u *User) MetadataString(keys ...string) *string {
	for _, k := range keys {
		if s, ok := u.UserMetadata[k].(string); ok && s != "" {
			return &s
		}
	}
	return nil
}

// Session is a signed-in session as issued by the token endpoint.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// ExpiresWithin reports whether the access token expires before now+d.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return time.Unix(s.ExpiresAt, 0).Before(now.Add(d))
}

// Listener receives session change notifications. s is nil after sign-out.
type Listener func(event Event, s *Session)

// OAuthRedirect is where the browser must be sent to start an OAuth flow.
type OAuthRedirect struct {
	Provider Provider
	URL      string
}

// SignUpParams are the inputs of a password sign-up.
type SignUpParams struct {
	Email      string
	Password   string
	RedirectTo string
	Data       map[string]any
}

// SignUpResult holds the created user and, when the project auto-confirms
// email addresses, the new session.
type SignUpResult struct {
	User    User
	Session *Session
}

// APIError is an error response from the auth service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: %s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("auth: %s (%d)", e.Message, e.Status)
}

// IsSessionGone reports whether the service no longer recognizes the token.
func (e *APIError) IsSessionGone() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden || e.Status == http.StatusNotFound
}

// SessionDropped reports whether err means the stored session was
// discarded for good: the service refused it, or its token failed
// verification. Other errors may clear up on retry.
func SessionDropped(err error) bool {
	if errors.Is(err, ErrSessionRejected) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError
}

type apiErrorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (b apiErrorBody) toAPIError(status int) *APIError {
	e := &APIError{Status: status, Code: b.ErrorCode}
	if e.Code == "" {
		if s, ok := b.Code.(string); ok {
			e.Code = s
		} else {
			e.Code = b.Error
		}
	}
	for _, m := range []string{b.Msg, b.Message, b.ErrorDescription, b.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
