package auth

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how the caller should react.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Stable machine-readable error codes returned to clients.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidPhone       = "invalid_phone"
	CodeInvitationNotFound = "invitation_not_found"
	CodeInvitationUsed     = "invitation_used"
	CodeInvitationExists   = "invitation_exists"
	CodePhoneRegistered    = "phone_registered"
	CodeCodeNotFound       = "code_not_found"
	CodeCodeExpired        = "code_expired"
	CodeCodeMismatch       = "code_mismatch"
	CodeTooManyAttempts    = "too_many_attempts"
	CodeUserNotFound       = "user_not_found"
	CodeForbidden          = "forbidden"
	CodeInternal           = "internal"
)

// Error is the typed failure returned by Service operations.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// AttemptsRemaining is set for CodeCodeMismatch.
	AttemptsRemaining int
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func internalError(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: msg, Err: err}
}

// AsError extracts the *Error from err. Anything else becomes an internal error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internalError("internal error", err)
}

// CodeOf returns the error code carried by err, or "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return AsError(err).Code
}
