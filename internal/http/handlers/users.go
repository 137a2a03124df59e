package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/proconfianza/server/internal/auth"
)

// UserHandler serves user lookups.
type UserHandler struct {
	svc *auth.Service
	log logrus.FieldLogger
}

func NewUserHandler(svc *auth.Service, log logrus.FieldLogger) *UserHandler {
	return &UserHandler{svc: svc, log: log}
}

// HandleGetUser handles GET /api/users/{phone}
func (h *UserHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	phone, err := url.PathUnescape(chi.URLParam(r, "phone"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid phone number", auth.CodeInvalidPhone)
		return
	}

	user, err := h.svc.GetUser(r.Context(), phone)
	if err != nil {
		respondServiceError(w, h.log, lookupStatus, err)
		return
	}
	respondJSON(w, http.StatusOK, userEnvelope{User: newUserResponse(user)})
}
