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

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	FindByPhone(ctx context.Context, phone string) (model.User, error)
	Create(ctx context.Context, in NewUser) (model.User, error)
	EnsureAdmin(ctx context.Context, phone string, now time.Time) (model.User, error)
}

// NewUser carries the fields set when a user is created.
type NewUser struct {
	PhoneNumber        string
	InvitedBy          *uuid.UUID
	InvitationCodeUsed *string
	IsAdmin            bool
	CreatedAt          time.Time
}

const userColumns = `id, phone_number, is_verified, is_admin, created_at, invited_by, invitation_code_used`

type userRepo struct {
	db *db.DB
	q  db.Querier
}

func scanUser(row rowScanner) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.PhoneNumber,
		&user.IsVerified,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.InvitedBy,
		&user.InvitationCodeUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = $1`)
	user, err := scanUser(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return model.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

// FindByPhone retrieves a user by canonical phone number
func (r *userRepo) FindByPhone(ctx context.Context, phone string) (model.User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE phone_number = $1`)
	user, err := scanUser(r.q.QueryRowContext(ctx, query, phone))
	if err != nil {
		return model.User{}, fmt.Errorf("find user by phone: %w", err)
	}
	return user, nil
}

// Create inserts a verified user. The unique phone constraint decides the
// outcome: when the phone already exists no row is returned and the call
// fails with ErrDuplicatePhone.
func (r *userRepo) Create(ctx context.Context, in NewUser) (model.User, error) {
	query := r.db.Rebind(`
		INSERT INTO users (id, phone_number, is_verified, is_admin, created_at, invited_by, invitation_code_used)
		VALUES ($1, $2, TRUE, $3, $4, $5, $6)
		ON CONFLICT (phone_number) DO NOTHING
		RETURNING ` + userColumns)

	user, err := scanUser(r.q.QueryRowContext(ctx, query,
		uuid.New(),
		in.PhoneNumber,
		in.IsAdmin,
		in.CreatedAt.UTC(),
		in.InvitedBy,
		in.InvitationCodeUsed,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.User{}, ErrDuplicatePhone
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// EnsureAdmin creates the phone as a verified admin, or promotes the existing user.
func (r *userRepo) EnsureAdmin(ctx context.Context, phone string, now time.Time) (model.User, error) {
	_, err := r.Create(ctx, NewUser{PhoneNumber: phone, IsAdmin: true, CreatedAt: now})
	if err != nil && !errors.Is(err, ErrDuplicatePhone) {
		return model.User{}, err
	}

	_, err = r.q.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET is_admin = TRUE, is_verified = TRUE WHERE phone_number = $1
	`), phone)
	if err != nil {
		return model.User{}, fmt.Errorf("promote admin: %w", err)
	}
	return r.FindByPhone(ctx, phone)
}
