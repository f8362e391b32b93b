// Package metrics holds the Prometheus collectors for the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Profile resolution outcomes.
const (
	OutcomeResolved = "resolved"
	OutcomeCreated  = "created"
	OutcomeDegraded = "degraded"
	OutcomeCleared  = "cleared"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermodel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dermodel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	profileResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermodel_profile_resolutions_total",
			Help: "Profile resolution passes by outcome",
		},
		[]string{"outcome"},
	)

	authActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermodel_auth_actions_total",
			Help: "Auth actions by action and result",
		},
		[]string{"action", "result"},
	)

	browserSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dermodel_browser_sessions_active",
			Help: "Number of browser sessions with a live session manager",
		},
	)
)

// ProfileResolved records the outcome of one resolution pass.
func ProfileResolved(outcome string) {
	profileResolutionsTotal.WithLabelValues(outcome).Inc()
}

// AuthAction records an auth action; err decides the result label.
func AuthAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	authActionsTotal.WithLabelValues(action, result).Inc()
}

// SetBrowserSessions sets the live browser session gauge.
func SetBrowserSessions(n int) {
	browserSessionsActive.Set(float64(n))
}

// Middleware records request count and latency. Paths are labeled with the
// ServeMux pattern so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
