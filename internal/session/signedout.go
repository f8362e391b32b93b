package session

import (
	"context"

	"dermodel/internal/authclient"

	"go.uber.org/zap"
)

// signedOutAuth is the auth client of a browser that has not started a
// session. Every action is refused.
type signedOutAuth struct{}

func (signedOutAuth) GetSession(context.Context) (*authclient.Session, error) { return nil, nil }

func (signedOutAuth) SignInWithOAuth(context.Context, authclient.Provider, string) (*authclient.OAuthRedirect, error) {
	return nil, authclient.ErrNoSession
}

func (signedOutAuth) ExchangeCodeForSession(context.Context, string) (*authclient.Session, error) {
	return nil, authclient.ErrNoSession
}

func (signedOutAuth) SignInWithPassword(context.Context, string, string) (*authclient.Session, error) {
	return nil, authclient.ErrNoSession
}

func (signedOutAuth) SignUp(context.Context, authclient.SignUpParams) (*authclient.SignUpResult, error) {
	return nil, authclient.ErrNoSession
}

func (signedOutAuth) SignOut(context.Context) error { return nil }

func (signedOutAuth) OnAuthStateChange(authclient.Listener) func() { return func() {} }

// NewSignedOutManager returns an initialized Manager that is permanently
// signed out. One instance can stand in for every browser that has not
// started a session yet.
func NewSignedOutManager(logger *zap.Logger) *Manager {
	m := NewManager(Config{Auth: signedOutAuth{}, Logger: logger})
	_ = m.Init(context.Background())
	return m
}
