package model

import (
	"time"

	"github.com/google/uuid"
)

// User is a phone-verified account. Users are created exactly once, already verified.
type User struct {
	ID                 uuid.UUID
	PhoneNumber        string
	IsVerified         bool
	IsAdmin            bool
	CreatedAt          time.Time
	InvitedBy          *uuid.UUID
	InvitationCodeUsed *string
}

// Invitation is a single-use registration code.
type Invitation struct {
	ID        uuid.UUID
	Code      string
	CreatedBy uuid.UUID
	CreatedAt time.Time
	IsActive  bool
	UsedBy    *uuid.UUID
	UsedAt    *time.Time
}

// Redeemed reports whether the invitation has been bound to a user.
func (i Invitation) Redeemed() bool {
	return i.UsedBy != nil || !i.IsActive
}

// VerificationCode is the single verification-code row kept per phone number.
// Only the salted hash of the code is stored.
type VerificationCode struct {
	ID          uuid.UUID
	PhoneNumber string
	CodeHash    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Used        bool
	Attempts    int
}

// Expired reports whether now is past the expiry instant.
func (c VerificationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
