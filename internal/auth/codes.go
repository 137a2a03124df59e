package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/proconfianza/server/internal/repo"
)

const codeDigits = 6

var (
	errNoCode          = errors.New("no verification code")
	errCodeExpired     = errors.New("verification code expired")
	errTooManyAttempts = errors.New("too many attempts")
)

// mismatchError reports a wrong code that still has attempts left.
type mismatchError struct {
	remaining int
}

func (e *mismatchError) Error() string {
	return fmt.Sprintf("code mismatch, %d attempts remaining", e.remaining)
}

// VerificationCodes issues and checks one-time codes. At most one code is
// live per phone; only its salted hash is stored.
type VerificationCodes struct {
	store       *repo.Store
	salt        string
	ttl         time.Duration
	maxAttempts int
}

// NewVerificationCodes creates the code store.
func NewVerificationCodes(store *repo.Store, salt string, ttl time.Duration, maxAttempts int) *VerificationCodes {
	return &VerificationCodes{store: store, salt: salt, ttl: ttl, maxAttempts: maxAttempts}
}

// Issue generates a fresh code for phone, replacing any previous one, and
// returns the plaintext for delivery.
func (v *VerificationCodes) Issue(ctx context.Context, phone string, now time.Time) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	if _, err := v.store.Verifications.Replace(ctx, phone, hashOTPHex(phone, code, v.salt), now, now.Add(v.ttl)); err != nil {
		return "", err
	}
	return code, nil
}

// ValidateAndConsume checks submitted against the live code for phone under a
// row lock. Attempt counting, discarding and consumption are committed before
// it returns, whatever the outcome. It returns nil on a match, otherwise one
// of errNoCode, errCodeExpired, errTooManyAttempts or *mismatchError.
func (v *VerificationCodes) ValidateAndConsume(ctx context.Context, phone, submitted string, now time.Time) error {
	var outcome error
	err := v.store.InTx(ctx, func(tx *repo.Store) error {
		rec, err := tx.Verifications.GetForUpdate(ctx, phone)
		if errors.Is(err, repo.ErrNotFound) {
			outcome = errNoCode
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Used {
			outcome = errNoCode
			return nil
		}
		if rec.Expired(now) {
			outcome = errCodeExpired
			return tx.Verifications.Delete(ctx, rec.ID)
		}
		if rec.Attempts >= v.maxAttempts {
			outcome = errTooManyAttempts
			return tx.Verifications.Delete(ctx, rec.ID)
		}

		if !v.matches(phone, submitted, rec.CodeHash) {
			attempts, err := tx.Verifications.IncrementAttempt(ctx, rec.ID)
			if err != nil {
				return err
			}
			if attempts >= v.maxAttempts {
				outcome = errTooManyAttempts
				return tx.Verifications.Delete(ctx, rec.ID)
			}
			outcome = &mismatchError{remaining: v.maxAttempts - attempts}
			return nil
		}

		if err := tx.Verifications.MarkUsed(ctx, rec.ID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				outcome = errNoCode
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("validate verification code: %w", err)
	}
	return outcome
}

func (v *VerificationCodes) matches(phone, submitted, storedHex string) bool {
	stored, err := hex.DecodeString(storedHex)
	if err != nil {
		return false
	}
	return constantTimeCompare(hashOTPBytes(phone, submitted, v.salt), stored)
}

// generateCode returns a uniformly random zero-padded 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// hashOTPHex returns SHA-256(phone:code:salt) as hex for DB storage
func hashOTPHex(phone, code, salt string) string {
	return hex.EncodeToString(hashOTPBytes(phone, code, salt))
}

func hashOTPBytes(phone, code, salt string) []byte {
	data := fmt.Sprintf("%s:%s:%s", phone, code, salt)
	hash := sha256.Sum256([]byte(data))
	return hash[:]
}

func constantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
