package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/proconfianza/server/internal/db"
)

var (
	// ErrNotFound is returned when no row matches the lookup key.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyUsed is returned when redeeming an invitation that is no longer active.
	ErrAlreadyUsed = errors.New("invitation already used")
	// ErrDuplicatePhone is returned when a user with the phone number already exists.
	ErrDuplicatePhone = errors.New("phone number already registered")
	// ErrDuplicateCode is returned when an invitation code is already taken.
	ErrDuplicateCode = errors.New("invitation code already exists")
)

// Store groups the three repositories over one database handle. Inside InTx
// every repository is bound to the same transaction.
type Store struct {
	db   *db.DB
	inTx bool

	Users         UserRepo
	Invitations   InvitationRepo
	Verifications VerificationRepo
}

// NewStore creates a Store over the connection pool.
func NewStore(d *db.DB) *Store {
	return newStore(d, d.DB, false)
}

func newStore(d *db.DB, q db.Querier, inTx bool) *Store {
	return &Store{
		db:            d,
		inTx:          inTx,
		Users:         &userRepo{db: d, q: q},
		Invitations:   &invitationRepo{db: d, q: q},
		Verifications: &verificationRepo{db: d, q: q},
	}
}

// InTx runs fn with a Store bound to a single transaction. A Store that is
// already transactional runs fn directly so calls can nest.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		return fn(newStore(s.db, tx, true))
	})
}

// Ping checks that storage is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}
