package handler

import (
	"net/http"

	"dermodel/internal/httpjson"
	"dermodel/internal/profile"
	"dermodel/internal/session"

	"go.uber.org/zap"
)

// ProfileHandler serves profile edits for the signed-in user.
type ProfileHandler struct {
	logger *zap.Logger
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{logger: logger}
}

// Update handles PATCH /api/v1/profile. Only fields present in the body
// are written; explicit nulls clear them.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	m := session.FromContext(r.Context())
	if m.Session() == nil {
		httpjson.WriteUnauthorized(w)
		return
	}

	var changes profile.Changes
	if err := httpjson.Decode(r, &changes); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, err.Error(), httpjson.TypeInvalidRequest)
		return
	}

	row, err := m.UpdateProfile(r.Context(), changes)
	if err != nil {
		writeActionError(w, h.logger, "update_profile", err)
		return
	}

	httpjson.Write(w, http.StatusOK, row)
}
