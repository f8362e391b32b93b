package handler

import (
	"net/http"
	"time"

	"dermodel/internal/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps holds what the routes are built from.
type Deps struct {
	Config  *config.Config
	DB      HealthChecker
	Catalog Catalog
	Logger  *zap.Logger

	// Sessions attaches the browser's session Manager to the request,
	// starting one for a new browser.
	Sessions func(http.Handler) http.Handler

	// KnownSessions attaches the Manager of a browser that already has
	// one and a signed-out Manager otherwise. Defaults to Sessions.
	KnownSessions func(http.Handler) http.Handler

	// SettleTimeout bounds how long sign-in waits for the new session to
	// be published. Defaults to DefaultSettleTimeout.
	SettleTimeout time.Duration
}

// RegisterRoutes registers all HTTP routes with the provided mux.
// Routes that act for a browser are wrapped individually by Sessions so
// the mux still sees every request and sets its pattern for metrics.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	// Health, status and metrics (no browser session)
	mux.HandleFunc("GET /health", HealthCheck)
	mux.HandleFunc("GET /api/v1/status", statusHandler(d.Config, d.DB))
	mux.Handle("GET /metrics", promhttp.Handler())

	if d.KnownSessions == nil {
		d.KnownSessions = d.Sessions
	}
	withSession := func(h http.HandlerFunc) http.Handler {
		return d.Sessions(h)
	}
	withKnownSession := func(h http.HandlerFunc) http.Handler {
		return d.KnownSessions(h)
	}

	auth := NewAuthHandler(d.Logger, d.SettleTimeout)
	mux.Handle("POST /auth/signin", withSession(auth.SignIn))
	mux.Handle("POST /auth/signup", withSession(auth.SignUp))
	mux.Handle("GET /auth/google", withSession(auth.Google))
	mux.Handle("GET /auth/callback", withSession(auth.Callback))
	mux.Handle("POST /auth/signout", withKnownSession(auth.SignOut))

	sessions := NewSessionHandler(d.Logger)
	mux.Handle("GET /api/v1/session", withKnownSession(sessions.Get))
	mux.Handle("GET /api/v1/session/events", withKnownSession(sessions.Events))

	profiles := NewProfileHandler(d.Logger)
	mux.Handle("PATCH /api/v1/profile", withKnownSession(profiles.Update))

	// Catalog reads need no session
	if d.Catalog != nil {
		catalogs := NewCatalogHandler(d.Catalog, d.Logger)
		mux.HandleFunc("GET /api/v1/ingredients", catalogs.List)
		mux.HandleFunc("GET /api/v1/ingredients/{name}/products", catalogs.Products)
		mux.HandleFunc("GET /api/v1/ingredients/{name}/papers", catalogs.Papers)
	}
}
