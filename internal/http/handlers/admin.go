package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/proconfianza/server/internal/auth"
	"github.com/proconfianza/server/internal/model"
)

// AdminHandler serves the admin API.
type AdminHandler struct {
	svc *auth.Service
	log logrus.FieldLogger
}

func NewAdminHandler(svc *auth.Service, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{svc: svc, log: log}
}

type createInvitationRequest struct {
	CreatedByPhone string `json:"created_by_phone" validate:"required,max=32"`
	Code           string `json:"code" validate:"max=50"`
}

type invitationResponse struct {
	ID        uuid.UUID  `json:"id"`
	Code      string     `json:"code"`
	CreatedBy uuid.UUID  `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UsedBy    *uuid.UUID `json:"used_by"`
	UsedAt    *time.Time `json:"used_at"`
	IsActive  bool       `json:"is_active"`
}

func newInvitationResponse(inv model.Invitation) invitationResponse {
	return invitationResponse{
		ID:        inv.ID,
		Code:      inv.Code,
		CreatedBy: inv.CreatedBy,
		CreatedAt: inv.CreatedAt,
		UsedBy:    inv.UsedBy,
		UsedAt:    inv.UsedAt,
		IsActive:  inv.IsActive,
	}
}

// HandleCreateInvitation handles POST /api/admin/invitations
func (h *AdminHandler) HandleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req createInvitationRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondServiceError(w, h.log, adminStatus, err)
		return
	}

	inv, err := h.svc.CreateInvitation(r.Context(), req.CreatedByPhone, req.Code)
	if err != nil {
		respondServiceError(w, h.log, adminStatus, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]invitationResponse{"invitation": newInvitationResponse(inv)})
}
