package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/proconfianza/server/internal/logging"
	"github.com/proconfianza/server/internal/model"
	"github.com/proconfianza/server/internal/repo"
	"github.com/sirupsen/logrus"
)

const (
	mintedCodeLength = 8
	mintAttempts     = 5
	// Excludes 0/O and 1/I.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var invitationCodeRe = regexp.MustCompile(`^[A-Z0-9_-]{4,50}$`)

// CreateInvitation issues an invitation on behalf of creatorPhone. An empty
// code mints a random one. Only admins may create invitations unless
// AllowUserInvites is set, in which case any verified user may.
func (s *Service) CreateInvitation(ctx context.Context, creatorPhone, code string) (model.Invitation, error) {
	if strings.TrimSpace(creatorPhone) == "" {
		return model.Invitation{}, newError(KindValidation, CodeInvalidRequest, "creator phone number is required")
	}
	creator, err := s.GetUser(ctx, creatorPhone)
	if err != nil {
		return model.Invitation{}, err
	}
	if !creator.IsAdmin && !(s.cfg.AllowUserInvites && creator.IsVerified) {
		return model.Invitation{}, newError(KindForbidden, CodeForbidden, "user may not create invitations")
	}

	code = repo.NormalizeCode(code)
	if code != "" {
		if !invitationCodeRe.MatchString(code) {
			return model.Invitation{}, newError(KindValidation, CodeInvalidRequest, "invitation code must be 4-50 characters of A-Z, 0-9, '_' or '-'")
		}
		inv, err := s.store.Invitations.Create(ctx, code, creator.ID, s.now())
		if errors.Is(err, repo.ErrDuplicateCode) {
			return model.Invitation{}, newError(KindConflict, CodeInvitationExists, "invitation code already exists")
		}
		if err != nil {
			return model.Invitation{}, internalError("failed to create invitation", err)
		}
		s.logInvitation(inv, creator)
		return inv, nil
	}

	for i := 0; i < mintAttempts; i++ {
		minted, err := mintInvitationCode()
		if err != nil {
			return model.Invitation{}, internalError("failed to mint invitation code", err)
		}
		inv, err := s.store.Invitations.Create(ctx, minted, creator.ID, s.now())
		if errors.Is(err, repo.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return model.Invitation{}, internalError("failed to create invitation", err)
		}
		s.logInvitation(inv, creator)
		return inv, nil
	}
	return model.Invitation{}, internalError("failed to mint a unique invitation code", repo.ErrDuplicateCode)
}

func (s *Service) logInvitation(inv model.Invitation, creator model.User) {
	s.log.WithFields(logrus.Fields{
		"invitation": inv.Code,
		"created_by": creator.ID,
	}).Info("Invitation created")
}

func mintInvitationCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, mintedCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Bootstrap makes adminPhone an admin, creating it if needed, and issues
// invitationCode under that admin. Safe to run on every start.
func (s *Service) Bootstrap(ctx context.Context, adminPhone, invitationCode string) error {
	if strings.TrimSpace(adminPhone) == "" {
		if strings.TrimSpace(invitationCode) != "" {
			return fmt.Errorf("bootstrap invitation code requires a bootstrap admin phone")
		}
		return nil
	}
	phone, err := s.canonicalPhone(adminPhone)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	var adminID uuid.UUID
	var created bool
	err = s.store.InTx(ctx, func(tx *repo.Store) error {
		admin, err := tx.Users.EnsureAdmin(ctx, phone, s.now())
		if err != nil {
			return err
		}
		adminID = admin.ID
		if strings.TrimSpace(invitationCode) == "" {
			return nil
		}
		_, err = tx.Invitations.Create(ctx, invitationCode, admin.ID, s.now())
		if errors.Is(err, repo.ErrDuplicateCode) {
			return nil
		}
		created = err == nil
		return err
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	entry := s.log.WithFields(logrus.Fields{
		"admin_id": adminID,
		"phone":    logging.MaskPhone(phone),
	})
	if created {
		entry = entry.WithField("invitation", repo.NormalizeCode(invitationCode))
	}
	entry.Info("Bootstrap admin ready")
	return nil
}
