package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/proconfianza/server/internal/db"
	"github.com/proconfianza/server/internal/model"
)

// VerificationRepo stores one verification-code row per phone number.
type VerificationRepo interface {
	Replace(ctx context.Context, phone, codeHash string, now, expiresAt time.Time) (model.VerificationCode, error)
	Get(ctx context.Context, phone string) (model.VerificationCode, error)
	GetForUpdate(ctx context.Context, phone string) (model.VerificationCode, error)
	IncrementAttempt(ctx context.Context, id uuid.UUID) (newAttemptCount int, err error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	PurgeDead(ctx context.Context, before time.Time) (int64, error)
}

const verificationColumns = `id, phone_number, code_hash, created_at, expires_at, used, attempts`

type verificationRepo struct {
	db *db.DB
	q  db.Querier
}

func scanVerification(row rowScanner) (model.VerificationCode, error) {
	var vc model.VerificationCode
	err := row.Scan(
		&vc.ID,
		&vc.PhoneNumber,
		&vc.CodeHash,
		&vc.CreatedAt,
		&vc.ExpiresAt,
		&vc.Used,
		&vc.Attempts,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.VerificationCode{}, ErrNotFound
		}
		return model.VerificationCode{}, fmt.Errorf("failed to scan verification code: %w", err)
	}
	return vc, nil
}

// Replace writes a fresh code for the phone in one atomic upsert. Any previous
// row for the phone is overwritten, including its id, so the old code can
// never validate again.
func (r *verificationRepo) Replace(ctx context.Context, phone, codeHash string, now, expiresAt time.Time) (model.VerificationCode, error) {
	query := r.db.Rebind(`
		INSERT INTO verification_codes (id, phone_number, code_hash, created_at, expires_at, used, attempts)
		VALUES ($1, $2, $3, $4, $5, FALSE, 0)
		ON CONFLICT (phone_number) DO UPDATE
		SET id = excluded.id,
		    code_hash = excluded.code_hash,
		    created_at = excluded.created_at,
		    expires_at = excluded.expires_at,
		    used = FALSE,
		    attempts = 0
		RETURNING ` + verificationColumns)

	vc, err := scanVerification(r.q.QueryRowContext(ctx, query, uuid.New(), phone, codeHash, now.UTC(), expiresAt.UTC()))
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("replace verification code: %w", err)
	}
	return vc, nil
}

// Get returns the phone's row regardless of state.
func (r *verificationRepo) Get(ctx context.Context, phone string) (model.VerificationCode, error) {
	return r.get(ctx, phone, "")
}

// GetForUpdate is Get holding a row lock until the surrounding transaction ends.
func (r *verificationRepo) GetForUpdate(ctx context.Context, phone string) (model.VerificationCode, error) {
	return r.get(ctx, phone, r.db.ForUpdate())
}

func (r *verificationRepo) get(ctx context.Context, phone, suffix string) (model.VerificationCode, error) {
	query := r.db.Rebind(`SELECT ` + verificationColumns + ` FROM verification_codes WHERE phone_number = $1` + suffix)
	vc, err := scanVerification(r.q.QueryRowContext(ctx, query, phone))
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("get verification code: %w", err)
	}
	return vc, nil
}

// IncrementAttempt sets attempts = attempts + 1; returns the new count.
func (r *verificationRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var newCount int
	err := r.q.QueryRowContext(ctx, r.db.Rebind(`
		UPDATE verification_codes
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`), id).Scan(&newCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return newCount, nil
}

// MarkUsed consumes the code. Only an unused row can be consumed.
func (r *verificationRepo) MarkUsed(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, r.db.Rebind(`
		UPDATE verification_codes SET used = TRUE WHERE id = $1 AND used = FALSE
	`), id)
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete discards the code.
func (r *verificationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, r.db.Rebind(`DELETE FROM verification_codes WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("delete verification code: %w", err)
	}
	return nil
}

// PurgeDead deletes rows that expired, or were consumed, before the cutoff.
func (r *verificationRepo) PurgeDead(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM verification_codes
		WHERE expires_at < $1 OR (used = TRUE AND created_at < $1)
	`), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge verification codes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge verification codes: %w", err)
	}
	return n, nil
}
