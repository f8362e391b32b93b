package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"dermodel/internal/authclient"
	"dermodel/internal/catalog"
	"dermodel/internal/config"
	"dermodel/internal/database"
	"dermodel/internal/handler"
	"dermodel/internal/jwtauth"
	"dermodel/internal/logger"
	"dermodel/internal/metrics"
	"dermodel/internal/middleware"
	"dermodel/internal/profile"
	"dermodel/internal/session"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	sweepInterval = time.Minute
	initTimeout   = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logg.Sync()
	}()

	if err := run(cfg, logg); err != nil {
		logg.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logg.Warn("error closing database connection", zap.Error(err))
		}
	}()
	logg.Info("database connection established")

	// Run migrations
	if err := db.MigrateUp(); err != nil {
		return err
	}
	version, dirty, err := db.MigrateVersion()
	switch {
	case err != nil:
		logg.Warn("failed to get migration version", zap.Error(err))
	case dirty:
		logg.Warn("database is in dirty state, a previous migration failed and manual intervention is required", zap.Uint("version", version))
	default:
		logg.Info("database migrations complete", zap.Uint("version", version))
	}

	storage, closeStorage, err := newAuthStorage(ctx, cfg.Session.RedisURL, logg)
	if err != nil {
		return err
	}
	defer closeStorage()

	verifier, err := jwtauth.NewVerifier(jwtauth.Config{
		AuthURL:   cfg.Auth.URL,
		JWTSecret: cfg.Auth.JWTSecret,
		Logger:    logg,
	})
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	profiles := profile.NewManager(profile.NewDatastore(db.DB))
	catalogs := catalog.NewManager(catalog.NewDatastore(db.DB))

	registry := session.NewRegistry(
		newManagerFactory(cfg, storage, verifier, profiles, logg),
		time.Duration(cfg.Session.IdleMinutes)*time.Minute,
		cfg.Session.MaxBrowsers,
		logg,
	)
	// The registry is stopped only after in-flight requests have drained.
	registryCtx, stopRegistry := context.WithCancel(context.Background())
	registryDone := make(chan struct{})
	go func() {
		registry.Run(registryCtx, sweepInterval)
		close(registryDone)
	}()
	defer func() {
		stopRegistry()
		<-registryDone
	}()

	cookies := middleware.NewCookieStore(cfg.Session.Secret, cfg.IsProduction())
	signedOut := session.NewSignedOutManager(logg)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.Deps{
		Config:        cfg,
		DB:            db,
		Catalog:       catalogs,
		Logger:        logg,
		Sessions:      middleware.BrowserSession(cookies, registry, logg),
		KnownSessions: middleware.KnownBrowserSession(cookies, registry, signedOut, logg),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           metrics.Middleware(middleware.RequestLogger(logg)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to signal server errors
	serverErr := make(chan error, 1)

	go func() {
		logg.Info("dermodel server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Environment))
		serverErr <- server.ListenAndServe()
	}()

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logg.Info("received shutdown signal, initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logg.Info("waiting for in-flight requests to complete")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Warn("graceful shutdown failed, forcing shutdown", zap.Error(err))
			if err := server.Close(); err != nil {
				return fmt.Errorf("forced shutdown failed: %w", err)
			}
		}

		logg.Info("server shutdown complete")
	}

	return nil
}

// newAuthStorage returns Redis-backed session storage when redisURL is
// set, so sessions survive restarts and are shared across instances.
func newAuthStorage(ctx context.Context, redisURL string, logg *zap.Logger) (authclient.Storage, func(), error) {
	if redisURL == "" {
		logg.Warn("REDIS_URL not set, auth sessions are kept in memory")
		return authclient.NewMemoryStorage(), func() {}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logg.Info("redis connection established")

	storage := authclient.NewRedisStorage(client)
	return storage, func() {
		if err := storage.Close(); err != nil {
			logg.Warn("error closing session change subscription", zap.Error(err))
		}
		if err := client.Close(); err != nil {
			logg.Warn("error closing redis connection", zap.Error(err))
		}
	}, nil
}

// newManagerFactory builds the per-browser auth client and Manager.
func newManagerFactory(
	cfg *config.Config,
	storage authclient.Storage,
	verifier authclient.TokenVerifier,
	profiles session.ProfileStore,
	logg *zap.Logger,
) session.Factory {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, browserID string) (*session.Manager, func(), error) {
		browserLog := logg.With(zap.String("browser_id", browserID))

		client, err := authclient.New(authclient.Config{
			URL:        cfg.Auth.URL,
			APIKey:     cfg.Auth.AnonKey,
			StorageKey: "sb-" + browserID + "-auth-token",
			Storage:    storage,
			Verifier:   verifier,
			HTTPClient: httpClient,
			Logger:     browserLog,
		})
		if err != nil {
			return nil, nil, err
		}

		// Background work lives as long as the browser entry, not the
		// request that created it.
		bg, cancel := context.WithCancel(context.Background())
		if err := client.Watch(bg); err != nil {
			browserLog.Warn("failed to watch session storage", zap.Error(err))
		}
		client.StartAutoRefresh(bg)

		m := session.NewManager(session.Config{
			Auth:   client,
			Store:  profiles,
			Origin: cfg.AppOrigin,
			Logger: browserLog,
		})
		release := func() {
			cancel()
			client.Close()
		}

		// The Manager outlives this request, so its initial load must not
		// be cut short by the client going away.
		initCtx, cancelInit := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
		defer cancelInit()
		if err := m.Init(initCtx); err != nil && !authclient.SessionDropped(err) {
			m.Close()
			release()
			return nil, nil, fmt.Errorf("failed to load session: %w", err)
		}
		return m, release, nil
	}
}
