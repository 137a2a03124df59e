// Package auth implements invitation-gated phone registration.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/proconfianza/server/internal/logging"
	"github.com/proconfianza/server/internal/model"
	"github.com/proconfianza/server/internal/repo"
	"github.com/sirupsen/logrus"
)

// SMSSender delivers a verification code to a phone.
type SMSSender interface {
	Send(ctx context.Context, phone, code string) error
}

// Config holds the registration policy.
type Config struct {
	Phone            PhoneFormat
	OTPSalt          string
	CodeTTL          time.Duration
	MaxAttempts      int
	SMSTimeout       time.Duration
	DevMode          bool
	AllowUserInvites bool
}

// Service orchestrates registration and login
type Service struct {
	store *repo.Store
	codes *VerificationCodes
	sms   SMSSender
	cfg   Config
	log   logrus.FieldLogger
	now   func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the registration service
func NewService(store *repo.Store, sender SMSSender, cfg Config, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store: store,
		codes: NewVerificationCodes(store, cfg.OTPSalt, cfg.CodeTTL, cfg.MaxAttempts),
		sms:   sender,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendResult is returned by SendVerification. DevCode is only set in dev mode.
type SendResult struct {
	DevCode string
}

// CheckInvitation reports whether code names an active invitation.
func (s *Service) CheckInvitation(ctx context.Context, code string) (model.Invitation, error) {
	if strings.TrimSpace(code) == "" {
		return model.Invitation{}, newError(KindValidation, CodeInvalidRequest, "invitation code is required")
	}
	return s.activeInvitation(ctx, s.store, code)
}

// SendVerification issues a code for phone after checking the invitation and
// that the phone is not registered yet. Delivery failures are logged, never
// returned: the code stays valid and the client may request another.
func (s *Service) SendVerification(ctx context.Context, rawPhone, invitationCode string) (SendResult, error) {
	if strings.TrimSpace(rawPhone) == "" || strings.TrimSpace(invitationCode) == "" {
		return SendResult{}, newError(KindValidation, CodeInvalidRequest, "phone number and invitation code are required")
	}
	phone, err := s.canonicalPhone(rawPhone)
	if err != nil {
		return SendResult{}, err
	}
	if _, err := s.activeInvitation(ctx, s.store, invitationCode); err != nil {
		return SendResult{}, err
	}

	_, err = s.store.Users.FindByPhone(ctx, phone)
	switch {
	case err == nil:
		return SendResult{}, newError(KindConflict, CodePhoneRegistered, "phone number is already registered")
	case !errors.Is(err, repo.ErrNotFound):
		return SendResult{}, internalError("failed to look up user", err)
	}

	code, err := s.codes.Issue(ctx, phone, s.now())
	if err != nil {
		return SendResult{}, internalError("failed to issue verification code", err)
	}

	s.dispatch(ctx, phone, code)

	if s.cfg.DevMode {
		return SendResult{DevCode: code}, nil
	}
	return SendResult{}, nil
}

func (s *Service) dispatch(ctx context.Context, phone, code string) {
	sendCtx := context.WithoutCancel(ctx)
	if s.cfg.SMSTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, s.cfg.SMSTimeout)
		defer cancel()
	}
	entry := s.log.WithField("phone", logging.MaskPhone(phone))
	if err := s.sms.Send(sendCtx, phone, code); err != nil {
		entry.WithError(err).Error("Failed to send verification SMS")
		return
	}
	entry.Info("Verification code sent")
}

// VerifyCode consumes the verification code, then creates the user and
// redeems the invitation in one transaction. A consumed code is not restored
// when that transaction fails.
func (s *Service) VerifyCode(ctx context.Context, rawPhone, submitted, invitationCode string) (model.User, error) {
	if strings.TrimSpace(rawPhone) == "" || strings.TrimSpace(submitted) == "" || strings.TrimSpace(invitationCode) == "" {
		return model.User{}, newError(KindValidation, CodeInvalidRequest, "phone number, code and invitation code are required")
	}
	phone, err := s.canonicalPhone(rawPhone)
	if err != nil {
		return model.User{}, err
	}
	now := s.now()

	if err := s.codes.ValidateAndConsume(ctx, phone, strings.TrimSpace(submitted), now); err != nil {
		return model.User{}, s.codeError(err)
	}

	var user model.User
	err = s.store.InTx(ctx, func(tx *repo.Store) error {
		inv, err := tx.Invitations.LockActive(ctx, invitationCode)
		if errors.Is(err, repo.ErrNotFound) {
			_, err = s.activeInvitation(ctx, tx, invitationCode)
			if err == nil {
				// Released between the two reads; treat as taken.
				err = newError(KindConflict, CodeInvitationUsed, "invitation code has already been used")
			}
			return err
		}
		if err != nil {
			return internalError("failed to lock invitation", err)
		}

		user, err = tx.Users.Create(ctx, repo.NewUser{
			PhoneNumber:        phone,
			InvitedBy:          &inv.CreatedBy,
			InvitationCodeUsed: &inv.Code,
			CreatedAt:          now,
		})
		if errors.Is(err, repo.ErrDuplicatePhone) {
			return newError(KindConflict, CodePhoneRegistered, "phone number is already registered")
		}
		if err != nil {
			return internalError("failed to create user", err)
		}

		_, err = tx.Invitations.Redeem(ctx, inv.Code, user.ID, now)
		switch {
		case errors.Is(err, repo.ErrAlreadyUsed):
			return newError(KindConflict, CodeInvitationUsed, "invitation code has already been used")
		case errors.Is(err, repo.ErrNotFound):
			return newError(KindNotFound, CodeInvitationNotFound, "invitation code not found")
		case err != nil:
			return internalError("failed to redeem invitation", err)
		}
		return nil
	})
	if err != nil {
		return model.User{}, AsError(err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id": user.ID,
		"phone":   logging.MaskPhone(phone),
	}).Info("User registered")
	return user, nil
}

// Login returns the verified user registered under phone.
func (s *Service) Login(ctx context.Context, rawPhone string) (model.User, error) {
	if strings.TrimSpace(rawPhone) == "" {
		return model.User{}, newError(KindValidation, CodeInvalidRequest, "phone number is required")
	}
	user, err := s.GetUser(ctx, rawPhone)
	if err != nil {
		return model.User{}, err
	}
	if !user.IsVerified {
		return model.User{}, newError(KindNotFound, CodeUserNotFound, "user not found")
	}
	return user, nil
}

// GetUser looks a user up by phone.
func (s *Service) GetUser(ctx context.Context, rawPhone string) (model.User, error) {
	phone, err := s.canonicalPhone(rawPhone)
	if err != nil {
		return model.User{}, err
	}
	user, err := s.store.Users.FindByPhone(ctx, phone)
	if errors.Is(err, repo.ErrNotFound) {
		return model.User{}, newError(KindNotFound, CodeUserNotFound, "user not found")
	}
	if err != nil {
		return model.User{}, internalError("failed to look up user", err)
	}
	return user, nil
}

// PhoneFormat returns the accepted phone number format.
func (s *Service) PhoneFormat() PhoneFormat {
	return s.cfg.Phone
}

func (s *Service) canonicalPhone(raw string) (string, error) {
	phone, ok := s.cfg.Phone.Canonical(raw)
	if !ok {
		return "", newError(KindValidation, CodeInvalidPhone, "phone number must be "+s.cfg.Phone.String())
	}
	return phone, nil
}

// activeInvitation distinguishes unknown codes from redeemed ones.
func (s *Service) activeInvitation(ctx context.Context, store *repo.Store, code string) (model.Invitation, error) {
	inv, err := store.Invitations.GetByCode(ctx, code)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Invitation{}, newError(KindNotFound, CodeInvitationNotFound, "invitation code not found")
	}
	if err != nil {
		return model.Invitation{}, internalError("failed to look up invitation", err)
	}
	if inv.Redeemed() {
		return model.Invitation{}, newError(KindConflict, CodeInvitationUsed, "invitation code has already been used")
	}
	return inv, nil
}

func (s *Service) codeError(err error) error {
	var mismatch *mismatchError
	switch {
	case errors.Is(err, errNoCode):
		return newError(KindNotFound, CodeCodeNotFound, "no verification code pending for this phone")
	case errors.Is(err, errCodeExpired):
		return newError(KindValidation, CodeCodeExpired, "verification code has expired")
	case errors.Is(err, errTooManyAttempts):
		return newError(KindConflict, CodeTooManyAttempts, "too many failed attempts, request a new code")
	case errors.As(err, &mismatch):
		e := newError(KindValidation, CodeCodeMismatch, "verification code is incorrect")
		e.AttemptsRemaining = mismatch.remaining
		return e
	default:
		return internalError("failed to verify code", err)
	}
}
