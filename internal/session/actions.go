package session

import (
	"context"
	"strings"

	"dermodel/internal/authclient"
	"dermodel/internal/metrics"
	"dermodel/internal/profile"
)

// SignInWithGoogle starts the Google OAuth flow and returns the URL the
// browser must visit. The session arrives later through the callback.
func (m *Manager) SignInWithGoogle(ctx context.Context) (string, error) {
	redirect, err := m.auth.SignInWithOAuth(ctx, authclient.ProviderGoogle, m.callbackURL())
	metrics.AuthAction("sign_in_google", err)
	if err != nil {
		return "", err
	}
	return redirect.URL, nil
}

// CompleteOAuth exchanges the code the provider returned for a session.
func (m *Manager) CompleteOAuth(ctx context.Context, code string) (*authclient.Session, error) {
	s, err := m.auth.ExchangeCodeForSession(ctx, code)
	metrics.AuthAction("oauth_callback", err)
	return s, err
}

// SignInWithEmail signs in with a password and returns the new session.
// Manager state is updated by the resulting session notification.
func (m *Manager) SignInWithEmail(ctx context.Context, email, password string) (*authclient.Session, error) {
	s, err := m.auth.SignInWithPassword(ctx, email, password)
	metrics.AuthAction("sign_in_email", err)
	return s, err
}

// SignUpWithEmail registers a new account. A non-empty displayName is
// stored as the username metadata. The result carries no session when the
// account still needs email confirmation.
func (m *Manager) SignUpWithEmail(ctx context.Context, email, password, displayName string) (*authclient.SignUpResult, error) {
	params := authclient.SignUpParams{
		Email:      email,
		Password:   password,
		RedirectTo: m.origin,
	}
	if displayName != "" {
		params.Data = map[string]any{"username": displayName}
	}

	res, err := m.auth.SignUp(ctx, params)
	metrics.AuthAction("sign_up_email", err)
	return res, err
}

// SignOut signs out at the auth service and clears the local session and
// profile before returning, whether or not the remote call succeeded.
func (m *Manager) SignOut(ctx context.Context) error {
	err := m.auth.SignOut(ctx)
	metrics.AuthAction("sign_out", err)

	// Invalidate passes still running for the old session.
	m.seq.Add(1)
	m.update(func() bool {
		m.session = nil
		m.profile = nil
		return true
	})
	return err
}

// UpdateProfile writes the present fields of c to the signed-in user's
// profile and publishes the stored row.
func (m *Manager) UpdateProfile(ctx context.Context, c profile.Changes) (*profile.Profile, error) {
	snap := m.Snapshot()
	if snap.Session == nil {
		return nil, ErrNotAuthenticated
	}

	email := snap.Session.User.Email
	if email == "" && snap.Profile != nil && snap.Profile.Profile != nil {
		email = snap.Profile.Profile.Email
	}
	if strings.TrimSpace(email) == "" {
		return nil, ErrEmailUnavailable
	}

	u := profile.Upsert{ID: snap.Session.User.ID, Email: email}
	u.ApplyChanges(c)

	row, err := m.store.Upsert(ctx, u)
	metrics.AuthAction("update_profile", err)
	if err != nil {
		return nil, err
	}

	// A row for a user who is no longer signed in is dropped without
	// invalidating the pass resolving the current session.
	m.update(func() bool {
		if m.session == nil || m.session.User.ID != row.ID {
			return false
		}
		m.seq.Add(1)
		m.profile = &ProfileState{Phase: PhaseResolved, Profile: row}
		return true
	})
	return row, nil
}

func (m *Manager) callbackURL() string {
	return strings.TrimSuffix(m.origin, "/") + m.callbackPath
}
