package services

import (
	"time"

	"github.com/BradenHooton/clinicauth/internal/limiters"
	"github.com/BradenHooton/clinicauth/internal/models"
)

const (
	DefaultLockoutThreshold = 3
	DefaultLockoutDuration  = 30 * time.Minute
)

// LockoutPolicy holds the brute-force lockout parameters
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

func (p LockoutPolicy) withDefaults() LockoutPolicy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultLockoutThreshold
	}
	if p.Duration <= 0 {
		p.Duration = DefaultLockoutDuration
	}
	return p
}

// LoginGovernor decides the outcome of one credentialed login attempt.
// It only mutates the account it is given; callers run it inside a row lock.
type LoginGovernor struct {
	policy LockoutPolicy
	hasher CredentialHasher
}

// NewLoginGovernor creates a LoginGovernor
func NewLoginGovernor(policy LockoutPolicy, hasher CredentialHasher) *LoginGovernor {
	return &LoginGovernor{policy: policy.withDefaults(), hasher: hasher}
}

// Policy returns the effective lockout policy
func (g *LoginGovernor) Policy() LockoutPolicy {
	return g.policy
}

// UnknownAccountError is the failure reported for a handle that does not exist.
// f is the handle's running tally, so the countdown and lockout read the same
// as for a real account.
func (g *LoginGovernor) UnknownAccountError(f limiters.HandleFailures) *models.AuthError {
	if f.Locked() {
		return models.NewLockedError(f.LockedUntil)
	}
	count := f.Count
	if count < 1 {
		count = 1
	}
	remaining := g.policy.Threshold - count
	if remaining < 1 {
		remaining = 1
	}
	return models.NewInvalidCredentialsError(remaining)
}

// Attempt applies one login attempt with secret at now.
// Returns nil when the credential matched and the account may proceed.
func (g *LoginGovernor) Attempt(acc *models.Account, secret string, now time.Time) error {
	switch acc.Status {
	case models.StatusActive:
	case models.StatusLocked:
		if acc.IsLockActive(now) {
			return models.NewLockedError(*acc.LockedUntil)
		}
		if err := acc.Unlock(); err != nil {
			return err
		}
	default:
		// pending and rejected accounts never reach password verification
		return models.NewAccountStateError(acc.Status)
	}

	if !g.hasher.Verify(acc.PasswordHash, secret) {
		acc.FailedAttempts++
		if acc.FailedAttempts >= g.policy.Threshold {
			until := now.Add(g.policy.Duration)
			if err := acc.Lock(until); err != nil {
				return err
			}
			return models.NewLockedError(until)
		}
		return models.NewInvalidCredentialsError(g.policy.Threshold - acc.FailedAttempts)
	}

	acc.FailedAttempts = 0
	acc.LockedUntil = nil
	loginAt := now
	acc.LastLoginAt = &loginAt
	return nil
}
