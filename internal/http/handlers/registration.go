package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/proconfianza/server/internal/auth"
	"github.com/proconfianza/server/internal/logging"
	"github.com/proconfianza/server/internal/middleware"
	"github.com/proconfianza/server/internal/model"
)

// RegistrationHandler handles the invitation and phone verification endpoints
type RegistrationHandler struct {
	svc          *auth.Service
	phoneLimiter *middleware.RateLimiter
	log          logrus.FieldLogger
}

// NewRegistrationHandler creates a new registration handler. phoneLimiter
// bounds send-verification calls per phone number.
func NewRegistrationHandler(svc *auth.Service, phoneLimiter *middleware.RateLimiter, log logrus.FieldLogger) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, phoneLimiter: phoneLimiter, log: log}
}

type checkInvitationRequest struct {
	InvitationCode string `json:"invitation_code" validate:"required,max=50"`
}

type checkInvitationResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

type sendVerificationRequest struct {
	PhoneNumber    string `json:"phone_number" validate:"required,max=32"`
	InvitationCode string `json:"invitation_code" validate:"required,max=50"`
}

type sendVerificationResponse struct {
	Message string `json:"message"`
	DevCode string `json:"dev_code,omitempty"`
}

type verifyCodeRequest struct {
	PhoneNumber      string `json:"phone_number" validate:"required,max=32"`
	VerificationCode string `json:"verification_code" validate:"required,max=16"`
	InvitationCode   string `json:"invitation_code" validate:"required,max=50"`
}

type loginRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,max=32"`
}

type userEnvelope struct {
	Message string       `json:"message,omitempty"`
	User    userResponse `json:"user"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PhoneNumber        string     `json:"phone_number"`
	IsVerified         bool       `json:"is_verified"`
	IsAdmin            bool       `json:"is_admin"`
	CreatedAt          time.Time  `json:"created_at"`
	InvitedBy          *uuid.UUID `json:"invited_by"`
	InvitationCodeUsed *string    `json:"invitation_code_used"`
}

func newUserResponse(u model.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		PhoneNumber:        u.PhoneNumber,
		IsVerified:         u.IsVerified,
		IsAdmin:            u.IsAdmin,
		CreatedAt:          u.CreatedAt,
		InvitedBy:          u.InvitedBy,
		InvitationCodeUsed: u.InvitationCodeUsed,
	}
}

// HandleCheckInvitation handles POST /api/auth/check-invitation
func (h *RegistrationHandler) HandleCheckInvitation(w http.ResponseWriter, r *http.Request) {
	var req checkInvitationRequest
	err := decodeRequest(w, r, &req)
	if err == nil {
		_, err = h.svc.CheckInvitation(r.Context(), req.InvitationCode)
	}
	if err != nil {
		status, body := errorBody(h.log, registrationStatus, err)
		respondJSON(w, status, checkInvitationResponse{Valid: false, Error: body.Error, Code: body.Code})
		return
	}
	respondJSON(w, http.StatusOK, checkInvitationResponse{Valid: true, Message: "Invitation code is valid"})
}

// HandleSendVerification handles POST /api/auth/send-verification
func (h *RegistrationHandler) HandleSendVerification(w http.ResponseWriter, r *http.Request) {
	var req sendVerificationRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondServiceError(w, h.log, registrationStatus, err)
		return
	}

	if phone, ok := h.svc.PhoneFormat().Canonical(req.PhoneNumber); ok {
		if !h.phoneLimiter.Allow(middleware.GetPhoneKey(phone)) {
			h.log.WithField("phone", logging.MaskPhone(phone)).Warn("Verification requests rate limited")
			middleware.RespondRateLimited(w)
			return
		}
	}

	res, err := h.svc.SendVerification(r.Context(), req.PhoneNumber, req.InvitationCode)
	if err != nil {
		respondServiceError(w, h.log, registrationStatus, err)
		return
	}
	respondJSON(w, http.StatusOK, sendVerificationResponse{
		Message: "Verification code sent",
		DevCode: res.DevCode,
	})
}

// HandleVerifyCode handles POST /api/auth/verify-code
func (h *RegistrationHandler) HandleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondServiceError(w, h.log, registrationStatus, err)
		return
	}

	user, err := h.svc.VerifyCode(r.Context(), req.PhoneNumber, req.VerificationCode, req.InvitationCode)
	if err != nil {
		if auth.CodeOf(err) != auth.CodeInternal {
			h.log.WithFields(logrus.Fields{
				"phone": logging.MaskPhone(strings.TrimSpace(req.PhoneNumber)),
				"code":  auth.CodeOf(err),
			}).Info("Verification rejected")
		}
		respondServiceError(w, h.log, registrationStatus, err)
		return
	}
	respondJSON(w, http.StatusCreated, userEnvelope{
		Message: "Registration completed",
		User:    newUserResponse(user),
	})
}

// HandleLogin handles POST /api/auth/login
func (h *RegistrationHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondServiceError(w, h.log, lookupStatus, err)
		return
	}

	user, err := h.svc.Login(r.Context(), req.PhoneNumber)
	if err != nil {
		respondServiceError(w, h.log, lookupStatus, err)
		return
	}
	respondJSON(w, http.StatusOK, userEnvelope{
		Message: "Login successful",
		User:    newUserResponse(user),
	})
}
