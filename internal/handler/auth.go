package handler

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"dermodel/internal/authclient"
	"dermodel/internal/httpjson"
	"dermodel/internal/session"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DefaultSettleTimeout bounds how long sign-in waits for the new session
// and its profile to be published.
const DefaultSettleTimeout = 5 * time.Second

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6,max=72"`
	DisplayName string `json:"display_name" validate:"omitempty,max=64"`
}

// AuthHandler serves the sign-in, sign-up and sign-out endpoints.
type AuthHandler struct {
	validate      *validator.Validate
	logger        *zap.Logger
	settleTimeout time.Duration
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(logger *zap.Logger, settleTimeout time.Duration) *AuthHandler {
	if settleTimeout <= 0 {
		settleTimeout = DefaultSettleTimeout
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &AuthHandler{
		validate:      validate,
		logger:        logger,
		settleTimeout: settleTimeout,
	}
}

// SignIn handles POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !h.decode(w, r, &req) {
		return
	}

	m := session.FromContext(r.Context())
	s, err := m.SignInWithEmail(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		writeActionError(w, h.logger, "sign_in_email", err)
		return
	}

	snap := h.awaitSession(r.Context(), m, s)
	httpjson.Write(w, http.StatusOK, toSessionResponse(snap))
}

// SignUp handles POST /auth/signup. When the account needs email
// confirmation no session follows and 202 is returned.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !h.decode(w, r, &req) {
		return
	}

	m := session.FromContext(r.Context())
	res, err := m.SignUpWithEmail(r.Context(), strings.TrimSpace(req.Email), req.Password, strings.TrimSpace(req.DisplayName))
	if err != nil {
		writeActionError(w, h.logger, "sign_up_email", err)
		return
	}

	if res == nil || res.Session == nil {
		httpjson.Write(w, http.StatusAccepted, map[string]any{
			"confirmation_required": true,
			"message":               "check your email to confirm your account",
		})
		return
	}

	snap := h.awaitSession(r.Context(), m, res.Session)
	httpjson.Write(w, http.StatusCreated, toSessionResponse(snap))
}

// Google handles GET /auth/google by redirecting to the provider.
func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	m := session.FromContext(r.Context())
	url, err := m.SignInWithGoogle(r.Context())
	if err != nil {
		writeActionError(w, h.logger, "sign_in_google", err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// Callback handles GET /auth/callback, where the provider sends the
// browser back with an authorization code.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = providerErr
		}
		httpjson.WriteError(w, http.StatusBadRequest, msg, httpjson.TypeAuthentication)
		return
	}

	code := q.Get("code")
	if code == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "missing authorization code", httpjson.TypeInvalidRequest)
		return
	}

	m := session.FromContext(r.Context())
	s, err := m.CompleteOAuth(r.Context(), code)
	if err != nil {
		writeActionError(w, h.logger, "oauth_callback", err)
		return
	}

	h.awaitSession(r.Context(), m, s)
	http.Redirect(w, r, "/", http.StatusFound)
}

// SignOut handles POST /auth/signout. Local state is cleared even when
// the auth service call fails, so the response is always 204.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	m := session.FromContext(r.Context())
	if err := m.SignOut(r.Context()); err != nil {
		h.logger.Warn("remote sign-out failed, local session cleared", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// awaitSession waits until the Manager has published want and settled its
// profile. A nil want returns the current snapshot at once.
func (h *AuthHandler) awaitSession(ctx context.Context, m *session.Manager, want *authclient.Session) session.Snapshot {
	if want == nil {
		return m.Snapshot()
	}

	ctx, cancel := context.WithTimeout(ctx, h.settleTimeout)
	defer cancel()

	snap, err := m.Await(ctx, func(s session.Snapshot) bool {
		return s.Session != nil &&
			s.Session.User.ID == want.User.ID &&
			s.Session.AccessToken == want.AccessToken &&
			s.Settled()
	})
	if err != nil {
		h.logger.Debug("session not settled before timeout", zap.Error(err))
	}
	return snap
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httpjson.Decode(r, v); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, err.Error(), httpjson.TypeInvalidRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, validationMessage(err), httpjson.TypeInvalidRequest)
		return false
	}
	return true
}

// validationMessage turns the first field error into a readable message.
func validationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return "invalid request"
	}

	fe := errs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	default:
		return field + " is invalid"
	}
}
