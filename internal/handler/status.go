package handler

import (
	"context"
	"net/http"

	"dermodel/internal/config"
	"dermodel/internal/httpjson"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// statusHandler reports service metadata and database reachability.
// A down database degrades the status but still answers 200.
func statusHandler(cfg *config.Config, db HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, database := "operational", "ok"
		if db != nil {
			if err := db.Health(r.Context()); err != nil {
				status, database = "degraded", "unavailable"
			}
		}

		env := ""
		if cfg != nil {
			env = cfg.Environment
		}

		httpjson.Write(w, http.StatusOK, map[string]any{
			"service":     "dermodel",
			"version":     "0.1.0",
			"status":      status,
			"environment": env,
			"database":    database,
		})
	}
}
