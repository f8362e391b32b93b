package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dermodel/internal/httpjson"
	"dermodel/internal/profile"
	"dermodel/internal/session"

	"go.uber.org/zap"
)

const keepAliveInterval = 25 * time.Second

type sessionInfo struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// sessionResponse never carries tokens.
type sessionResponse struct {
	Session      *sessionInfo     `json:"session"`
	User         *profile.Profile `json:"user"`
	ProfileState *session.Phase   `json:"profile_state"`
	Loading      bool             `json:"loading"`
}

func toSessionResponse(snap session.Snapshot) sessionResponse {
	resp := sessionResponse{Loading: snap.Loading}
	if s := snap.Session; s != nil {
		resp.Session = &sessionInfo{
			UserID:    s.User.ID.String(),
			Email:     s.User.Email,
			ExpiresAt: time.Unix(s.ExpiresAt, 0).UTC(),
		}
	}
	if st := snap.Profile; st != nil {
		phase := st.Phase
		resp.User = st.Profile
		resp.ProfileState = &phase
	}
	return resp
}

// SessionHandler exposes the browser's session state.
type SessionHandler struct {
	logger *zap.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(logger *zap.Logger) *SessionHandler {
	return &SessionHandler{logger: logger}
}

// Get handles GET /api/v1/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	m := session.FromContext(r.Context())
	httpjson.Write(w, http.StatusOK, toSessionResponse(m.Snapshot()))
}

// Events handles GET /api/v1/session/events as a server-sent event stream
// of session snapshots, starting with the current one.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	m := session.FromContext(r.Context())
	rc := http.NewResponseController(w)

	changed := make(chan struct{}, 1)
	unsubscribe := m.Subscribe(func(session.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	send := func() bool {
		data, err := json.Marshal(toSessionResponse(m.Snapshot()))
		if err != nil {
			h.logger.Error("failed to encode session event", zap.Error(err))
			return false
		}
		if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-changed:
			if !send() {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil || rc.Flush() != nil {
				return
			}
		}
	}
}
