package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/proconfianza/server/internal/db"
	"github.com/proconfianza/server/internal/model"
)

// InvitationRepo is the invitation ledger. Codes are normalized with
// NormalizeCode on every call.
type InvitationRepo interface {
	GetByCode(ctx context.Context, code string) (model.Invitation, error)
	LookupActive(ctx context.Context, code string) (model.Invitation, error)
	LockActive(ctx context.Context, code string) (model.Invitation, error)
	Redeem(ctx context.Context, code string, redeemerID uuid.UUID, now time.Time) (model.Invitation, error)
	Create(ctx context.Context, code string, createdBy uuid.UUID, now time.Time) (model.Invitation, error)
}

// NormalizeCode trims and uppercases an invitation code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

const invitationColumns = `id, code, created_by, created_at, is_active, used_by, used_at`

type invitationRepo struct {
	db *db.DB
	q  db.Querier
}

func scanInvitation(row rowScanner) (model.Invitation, error) {
	var inv model.Invitation
	err := row.Scan(
		&inv.ID,
		&inv.Code,
		&inv.CreatedBy,
		&inv.CreatedAt,
		&inv.IsActive,
		&inv.UsedBy,
		&inv.UsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Invitation{}, ErrNotFound
		}
		return model.Invitation{}, fmt.Errorf("failed to scan invitation: %w", err)
	}
	return inv, nil
}

// GetByCode returns the invitation in any state.
func (r *invitationRepo) GetByCode(ctx context.Context, code string) (model.Invitation, error) {
	query := r.db.Rebind(`SELECT ` + invitationColumns + ` FROM invitations WHERE code = $1`)
	inv, err := scanInvitation(r.q.QueryRowContext(ctx, query, NormalizeCode(code)))
	if err != nil {
		return model.Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	return inv, nil
}

// LookupActive returns the invitation only while it is still active. It does not lock.
func (r *invitationRepo) LookupActive(ctx context.Context, code string) (model.Invitation, error) {
	return r.lookupActive(ctx, code, "")
}

// LockActive is LookupActive holding a row lock until the surrounding
// transaction ends. Concurrent redemptions of the same code queue here.
func (r *invitationRepo) LockActive(ctx context.Context, code string) (model.Invitation, error) {
	return r.lookupActive(ctx, code, r.db.ForUpdate())
}

func (r *invitationRepo) lookupActive(ctx context.Context, code, suffix string) (model.Invitation, error) {
	query := r.db.Rebind(`
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE code = $1 AND is_active = TRUE AND used_by IS NULL` + suffix)
	inv, err := scanInvitation(r.q.QueryRowContext(ctx, query, NormalizeCode(code)))
	if err != nil {
		return model.Invitation{}, fmt.Errorf("lookup active invitation: %w", err)
	}
	return inv, nil
}

// Redeem flips an active invitation to redeemed in a single conditional
// UPDATE. Exactly one concurrent caller matches the WHERE clause; the others
// get ErrAlreadyUsed.
func (r *invitationRepo) Redeem(ctx context.Context, code string, redeemerID uuid.UUID, now time.Time) (model.Invitation, error) {
	code = NormalizeCode(code)
	query := r.db.Rebind(`
		UPDATE invitations
		SET is_active = FALSE, used_by = $2, used_at = $3
		WHERE code = $1 AND is_active = TRUE AND used_by IS NULL
		RETURNING ` + invitationColumns)

	inv, err := scanInvitation(r.q.QueryRowContext(ctx, query, code, redeemerID, now.UTC()))
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Invitation{}, fmt.Errorf("redeem invitation: %w", err)
	}

	if _, getErr := r.GetByCode(ctx, code); getErr != nil {
		if errors.Is(getErr, ErrNotFound) {
			return model.Invitation{}, ErrNotFound
		}
		return model.Invitation{}, getErr
	}
	return model.Invitation{}, ErrAlreadyUsed
}

// Create inserts a new active invitation, failing with ErrDuplicateCode when the code exists.
func (r *invitationRepo) Create(ctx context.Context, code string, createdBy uuid.UUID, now time.Time) (model.Invitation, error) {
	query := r.db.Rebind(`
		INSERT INTO invitations (id, code, created_by, created_at, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (code) DO NOTHING
		RETURNING ` + invitationColumns)

	inv, err := scanInvitation(r.q.QueryRowContext(ctx, query, uuid.New(), NormalizeCode(code), createdBy, now.UTC()))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Invitation{}, ErrDuplicateCode
		}
		return model.Invitation{}, fmt.Errorf("insert invitation: %w", err)
	}
	return inv, nil
}
