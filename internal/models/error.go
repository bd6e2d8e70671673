package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for persistence and transport failures
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// ErrorKind classifies account-security failures
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation_error"
	KindDuplicate          ErrorKind = "duplicate"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindAccountState       ErrorKind = "account_state"
	KindLocked             ErrorKind = "account_locked"
	KindToken              ErrorKind = "invalid_token"
	KindReuse              ErrorKind = "password_reuse"
	KindTwoFactor          ErrorKind = "two_factor_failed"
)

// AuthError is the single error type returned by the account-security operations.
// errors.Is matches on Kind, so callers compare against the sentinels below.
type AuthError struct {
	Kind              ErrorKind
	Message           string
	Status            AccountStatus
	LockedUntil       *time.Time
	AttemptsRemaining *int
	Err               error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any AuthError of the same kind
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is
var (
	ErrValidation         = &AuthError{Kind: KindValidation, Message: "invalid request"}
	ErrDuplicate          = &AuthError{Kind: KindDuplicate, Message: "account already registered"}
	ErrInvalidCredentials = &AuthError{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrAccountState       = &AuthError{Kind: KindAccountState, Message: "account is not in a valid state for this operation"}
	ErrLocked             = &AuthError{Kind: KindLocked, Message: "account is temporarily locked"}
	ErrToken              = &AuthError{Kind: KindToken, Message: "token is invalid or expired"}
	ErrReuse              = &AuthError{Kind: KindReuse, Message: "password was used recently"}
	ErrTwoFactor          = &AuthError{Kind: KindTwoFactor, Message: "invalid verification code"}
)

// NewValidationError reports malformed input
func NewValidationError(message string) *AuthError {
	return &AuthError{Kind: KindValidation, Message: message}
}

// NewDuplicateError never says which of handle or email collided
func NewDuplicateError() *AuthError {
	return &AuthError{Kind: KindDuplicate, Message: ErrDuplicate.Message}
}

// NewInvalidCredentialsError carries the attempts left before lockout
func NewInvalidCredentialsError(attemptsRemaining int) *AuthError {
	if attemptsRemaining < 0 {
		attemptsRemaining = 0
	}
	return &AuthError{
		Kind:              KindInvalidCredentials,
		Message:           ErrInvalidCredentials.Message,
		AttemptsRemaining: &attemptsRemaining,
	}
}

// NewAccountStateError explains why the current status blocks the operation
func NewAccountStateError(status AccountStatus) *AuthError {
	var msg string
	switch status {
	case StatusPendingVerification:
		msg = "email address has not been verified"
	case StatusPendingApproval:
		msg = "account is awaiting administrator approval"
	case StatusLocked:
		msg = "account is locked"
	case StatusRejected:
		msg = "account registration was rejected"
	case StatusActive:
		msg = "account is already active"
	default:
		msg = ErrAccountState.Message
	}
	return &AuthError{Kind: KindAccountState, Message: msg, Status: status}
}

// NewLockedError carries the instant the lockout ends
func NewLockedError(until time.Time) *AuthError {
	return &AuthError{Kind: KindLocked, Message: ErrLocked.Message, Status: StatusLocked, LockedUntil: &until}
}

// NewTokenError reports a missing, expired or consumed token
func NewTokenError() *AuthError {
	return &AuthError{Kind: KindToken, Message: ErrToken.Message}
}

// NewReuseError reports a password-history violation
func NewReuseError(depth int) *AuthError {
	return &AuthError{Kind: KindReuse, Message: fmt.Sprintf("password matches one of the last %d passwords", depth)}
}

// NewTwoFactorError reports a failed or unavailable second factor
func NewTwoFactorError(message string) *AuthError {
	if message == "" {
		message = ErrTwoFactor.Message
	}
	return &AuthError{Kind: KindTwoFactor, Message: message}
}

// RemainingLockout returns how long a LockedError still applies at now
func (e *AuthError) RemainingLockout(now time.Time) time.Duration {
	if e.LockedUntil == nil {
		return 0
	}
	if d := e.LockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}
