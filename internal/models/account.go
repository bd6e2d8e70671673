package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"
)

// AccountStatus is the lifecycle state of an account
type AccountStatus string

const (
	StatusPendingVerification AccountStatus = "PENDING_VERIFICATION"
	StatusPendingApproval     AccountStatus = "PENDING_APPROVAL"
	StatusActive              AccountStatus = "ACTIVE"
	StatusLocked              AccountStatus = "LOCKED"
	StatusRejected            AccountStatus = "REJECTED"
)

// Roles known to the account subsystem. Per-screen permissions live elsewhere.
const (
	RoleStaff        = "staff"
	RoleDoctor       = "doctor"
	RoleReceptionist = "receptionist"
	RoleAdmin        = "admin"
)

// legalTransitions lists every status change the lifecycle allows
var legalTransitions = map[AccountStatus][]AccountStatus{
	StatusPendingVerification: {StatusPendingApproval, StatusRejected},
	StatusPendingApproval:     {StatusActive, StatusRejected},
	StatusActive:              {StatusLocked},
	StatusLocked:              {StatusActive},
}

// IsValid reports whether s is a known status
func (s AccountStatus) IsValid() bool {
	switch s {
	case StatusPendingVerification, StatusPendingApproval, StatusActive, StatusLocked, StatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsValidRole checks a role against the known set
func IsValidRole(role string) bool {
	switch role {
	case RoleStaff, RoleDoctor, RoleReceptionist, RoleAdmin:
		return true
	}
	return false
}

// Account is one registered person. Token fields hold SHA-256 hashes, never the plain token.
type Account struct {
	ID           string
	Handle       string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       AccountStatus

	FailedAttempts int
	LockedUntil    *time.Time
	FirstLogin     bool
	LastLoginAt    *time.Time

	VerificationTokenHash *string
	VerificationExpiresAt *time.Time
	ResetTokenHash        *string
	ResetExpiresAt        *time.Time

	TwoFactorEnabled   bool
	TwoFactorSecret    []byte // AES-256-GCM ciphertext of the base32 secret
	TwoFactorNonce     []byte
	TwoFactorLastStep  int64 // last accepted TOTP time step
	EmailCodeHash      *string
	EmailCodeExpiresAt *time.Time

	TokenKey  string // per-account session signing key
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy *string
	UpdatedBy *string
}

// NormalizeHandle trims and uppercases a handle
func NormalizeHandle(handle string) string {
	return strings.ToUpper(strings.TrimSpace(handle))
}

// NormalizeEmail trims and lowercases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TransitionTo moves the account to next if the lifecycle allows it
func (a *Account) TransitionTo(next AccountStatus) error {
	if !a.Status.CanTransitionTo(next) {
		return NewAccountStateError(a.Status)
	}
	a.Status = next
	return nil
}

// IsLockActive reports whether a lockout is still in force at now
func (a *Account) IsLockActive(now time.Time) bool {
	return a.Status == StatusLocked && a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Lock moves an active account into LOCKED until the given instant
func (a *Account) Lock(until time.Time) error {
	if err := a.TransitionTo(StatusLocked); err != nil {
		return err
	}
	a.LockedUntil = &until
	return nil
}

// Unlock returns a locked account to ACTIVE and resets the failure counter
func (a *Account) Unlock() error {
	if err := a.TransitionTo(StatusActive); err != nil {
		return err
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	return nil
}

// SetVerificationToken stores the hash of a freshly issued verification token
func (a *Account) SetVerificationToken(hash string, expiresAt time.Time) {
	a.VerificationTokenHash = &hash
	a.VerificationExpiresAt = &expiresAt
}

// ClearVerificationToken consumes the verification token
func (a *Account) ClearVerificationToken() {
	a.VerificationTokenHash = nil
	a.VerificationExpiresAt = nil
}

// VerificationTokenMatches reports whether plain is the live verification token at now
func (a *Account) VerificationTokenMatches(plain string, now time.Time) bool {
	return tokenMatches(a.VerificationTokenHash, a.VerificationExpiresAt, plain, now)
}

// SetResetToken stores the hash of a freshly issued reset token
func (a *Account) SetResetToken(hash string, expiresAt time.Time) {
	a.ResetTokenHash = &hash
	a.ResetExpiresAt = &expiresAt
}

// ClearResetToken consumes the reset token
func (a *Account) ClearResetToken() {
	a.ResetTokenHash = nil
	a.ResetExpiresAt = nil
}

// ResetTokenMatches reports whether plain is the live reset token at now
func (a *Account) ResetTokenMatches(plain string, now time.Time) bool {
	return tokenMatches(a.ResetTokenHash, a.ResetExpiresAt, plain, now)
}

// SetEmailCode stores the hash of a pending email second-factor code
func (a *Account) SetEmailCode(hash string, expiresAt time.Time) {
	a.EmailCodeHash = &hash
	a.EmailCodeExpiresAt = &expiresAt
}

// ClearEmailCode consumes the pending email code
func (a *Account) ClearEmailCode() {
	a.EmailCodeHash = nil
	a.EmailCodeExpiresAt = nil
}

// EmailCodeMatches reports whether plain is the live email code at now
func (a *Account) EmailCodeMatches(plain string, now time.Time) bool {
	return tokenMatches(a.EmailCodeHash, a.EmailCodeExpiresAt, plain, now)
}

// HasPendingTwoFactorSecret reports whether an enrollment secret is stored
func (a *Account) HasPendingTwoFactorSecret() bool {
	return len(a.TwoFactorSecret) > 0 && len(a.TwoFactorNonce) > 0
}

// ClearTwoFactor removes every second-factor field
func (a *Account) ClearTwoFactor() {
	a.TwoFactorEnabled = false
	a.TwoFactorSecret = nil
	a.TwoFactorNonce = nil
	a.TwoFactorLastStep = 0
	a.ClearEmailCode()
}

// HashSecretToken returns the hex SHA-256 digest used to store tokens and short codes
func HashSecretToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func tokenMatches(storedHash *string, expiresAt *time.Time, plain string, now time.Time) bool {
	if storedHash == nil || expiresAt == nil || plain == "" {
		return false
	}
	if !now.Before(*expiresAt) {
		return false
	}
	candidate := HashSecretToken(plain)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(*storedHash)) == 1
}
