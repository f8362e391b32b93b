package handler

import (
	"errors"
	"net/http"

	"dermodel/internal/authclient"
	"dermodel/internal/httpjson"
	"dermodel/internal/profile"
	"dermodel/internal/session"

	"go.uber.org/zap"
)

// writeActionError maps an error from a session action to a response.
// Auth service rejections keep their message; anything unexpected is
// logged and reported as a 500.
func writeActionError(w http.ResponseWriter, logger *zap.Logger, action string, err error) {
	var apiErr *authclient.APIError
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
			httpjson.WriteError(w, http.StatusUnauthorized, apiErr.Message, httpjson.TypeAuthentication)
		case apiErr.Status == http.StatusTooManyRequests:
			httpjson.WriteError(w, http.StatusTooManyRequests, apiErr.Message, httpjson.TypeInvalidRequest)
		case apiErr.Status >= 400 && apiErr.Status < 500:
			httpjson.WriteError(w, http.StatusBadRequest, apiErr.Message, httpjson.TypeInvalidRequest)
		default:
			logger.Error("auth service error", zap.String("action", action), zap.Error(err))
			httpjson.WriteError(w, http.StatusBadGateway, "auth service unavailable", httpjson.TypeServer)
		}
	case errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, authclient.ErrNoSession):
		httpjson.WriteUnauthorized(w)
	case errors.Is(err, session.ErrEmailUnavailable),
		errors.Is(err, authclient.ErrMissingCodeVerifier),
		errors.Is(err, profile.ErrInvalidEmail):
		httpjson.WriteError(w, http.StatusBadRequest, err.Error(), httpjson.TypeInvalidRequest)
	default:
		logger.Error("action failed", zap.String("action", action), zap.Error(err))
		httpjson.WriteInternal(w)
	}
}
