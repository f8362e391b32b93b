package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dermodel/internal/authclient"
	"dermodel/internal/config"
	"dermodel/internal/profile"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testUserID = uuid.MustParse("5f0c2f8e-8d1c-4a55-9c59-3f2c1d0b7a11")

type stubProfiles struct{}

func (stubProfiles) Find(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	return &profile.Profile{ID: id, Email: "alice@example.com"}, nil
}

func (stubProfiles) Upsert(ctx context.Context, u profile.Upsert) (*profile.Profile, error) {
	return &profile.Profile{ID: u.ID, Email: u.Email}, nil
}

// failingStorage fails every read, like an unreachable Redis.
type failingStorage struct {
	authclient.Storage
}

func (failingStorage) GetItem(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("dial tcp 10.0.0.7:6379: i/o timeout")
}

func testConfig(authURL string) *config.Config {
	return &config.Config{
		AppOrigin: "https://dermodel.test",
		Auth:      config.AuthConfig{URL: authURL, AnonKey: "anon-key"},
	}
}

func storeSession(t *testing.T, storage authclient.Storage, browserID string, expiresAt time.Time) {
	t.Helper()
	data, err := json.Marshal(&authclient.Session{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    expiresAt.Unix(),
		User:         authclient.User{ID: testUserID, Email: "alice@example.com"},
	})
	require.NoError(t, err)
	require.NoError(t, storage.SetItem(context.Background(), "sb-"+browserID+"-auth-token", data, time.Hour))
}

func TestManagerFactory_InitSurvivesCancelledRequest(t *testing.T) {
	storage := authclient.NewMemoryStorage()
	storeSession(t, storage, "b1", time.Now().Add(time.Hour))
	factory := newManagerFactory(testConfig("http://auth.invalid"), storage, nil, stubProfiles{}, zap.NewNop())

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()

	m, release, err := factory(reqCtx, "b1")
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
		release()
	})

	snap := m.Snapshot()
	require.NotNil(t, snap.Session, "stored session must load despite the cancelled request")
	assert.Equal(t, testUserID, snap.Session.User.ID)
	assert.True(t, snap.Settled())
}

func TestManagerFactory_TransientLoadFailureNotKept(t *testing.T) {
	storage := failingStorage{Storage: authclient.NewMemoryStorage()}
	factory := newManagerFactory(testConfig("http://auth.invalid"), storage, nil, stubProfiles{}, zap.NewNop())

	m, release, err := factory(context.Background(), "b2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load session")
	assert.Nil(t, m)
	assert.Nil(t, release)
}

func TestManagerFactory_RevokedSessionKeptSignedOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"refresh_token_not_found","msg":"Invalid Refresh Token"}`))
	}))
	t.Cleanup(srv.Close)

	storage := authclient.NewMemoryStorage()
	storeSession(t, storage, "b3", time.Now().Add(-time.Minute))
	factory := newManagerFactory(testConfig(srv.URL), storage, nil, stubProfiles{}, zap.NewNop())

	m, release, err := factory(context.Background(), "b3")
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
		release()
	})

	snap := m.Snapshot()
	assert.Nil(t, snap.Session)
	assert.False(t, snap.Loading)
}
