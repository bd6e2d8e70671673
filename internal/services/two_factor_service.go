package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/clinicauth/internal/auth"
	"github.com/BradenHooton/clinicauth/internal/database"
	"github.com/BradenHooton/clinicauth/internal/models"
)

// Second-factor methods reported in audit records
const (
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
	MethodEmailCode  = "email_code"
)

// TwoFactorManager owns the TOTP secret and backup code pool of an account
type TwoFactorManager struct {
	totp  *auth.TOTPManager
	codes BackupCodeRepository
}

// NewTwoFactorManager creates a TwoFactorManager
func NewTwoFactorManager(totpManager *auth.TOTPManager, codes BackupCodeRepository) *TwoFactorManager {
	return &TwoFactorManager{totp: totpManager, codes: codes}
}

// Enroll generates a new secret and stores it encrypted on acc as pending.
// The factor stays disabled until Confirm succeeds.
func (m *TwoFactorManager) Enroll(acc *models.Account) (*models.TwoFactorProvisioning, error) {
	provisioning, err := m.totp.Provision(acc.Handle)
	if err != nil {
		return nil, err
	}

	encrypted, nonce, err := m.totp.EncryptSecret(provisioning.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt TOTP secret: %w", err)
	}

	acc.TwoFactorEnabled = false
	acc.TwoFactorSecret = encrypted
	acc.TwoFactorNonce = nonce
	acc.TwoFactorLastStep = 0
	return provisioning, nil
}

// IssueBackupCodes replaces every unused code of the account with a fresh batch
// and returns the plaintext codes, which are never retrievable again
func (m *TwoFactorManager) IssueBackupCodes(ctx context.Context, q database.Querier, accountID string) ([]string, error) {
	codes, err := m.totp.GenerateBackupCodes(auth.BackupCodeCount)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = m.totp.HashBackupCode(code)
	}

	if err := m.codes.ReplaceAll(ctx, q, accountID, hashes); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}
	return codes, nil
}

// RevokeBackupCodes invalidates every unused code of the account
func (m *TwoFactorManager) RevokeBackupCodes(ctx context.Context, q database.Querier, accountID string) error {
	if err := m.codes.InvalidateAll(ctx, q, accountID); err != nil {
		return fmt.Errorf("failed to invalidate backup codes: %w", err)
	}
	return nil
}

// RemainingBackupCodes counts the unused codes of the account
func (m *TwoFactorManager) RemainingBackupCodes(ctx context.Context, accountID string) (int, error) {
	return m.codes.CountUnused(ctx, accountID)
}

// VerifyTOTP checks code against the stored secret and records the accepted step on acc
func (m *TwoFactorManager) VerifyTOTP(acc *models.Account, code string, now time.Time) error {
	if !acc.HasPendingTwoFactorSecret() {
		return models.NewTwoFactorError("two-factor authentication is not configured")
	}

	secret, err := m.totp.DecryptSecret(acc.TwoFactorSecret, acc.TwoFactorNonce)
	if err != nil {
		return err
	}

	step, err := m.totp.ValidateTOTP(secret, code, now, acc.TwoFactorLastStep)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidTOTPCode) || errors.Is(err, auth.ErrTOTPCodeReplay) {
			return &models.AuthError{Kind: models.KindTwoFactor, Message: models.ErrTwoFactor.Message, Err: err}
		}
		return err
	}

	acc.TwoFactorLastStep = step
	return nil
}

// VerifyLogin accepts a TOTP code, a pending email code or an unused backup code.
// Returns the method that matched. A backup code is spent through q, the
// transaction holding acc's row lock.
func (m *TwoFactorManager) VerifyLogin(ctx context.Context, q database.Querier, acc *models.Account, code string, now time.Time) (string, error) {
	code = strings.TrimSpace(code)

	if isNumericCode(code, auth.EmailCodeDigits) {
		err := m.VerifyTOTP(acc, code, now)
		if err == nil {
			return MethodTOTP, nil
		}
		if !errors.Is(err, models.ErrTwoFactor) {
			return "", err
		}
		if acc.EmailCodeMatches(code, now) {
			acc.ClearEmailCode()
			return MethodEmailCode, nil
		}
		return "", err
	}

	if auth.LooksLikeBackupCode(code) {
		ok, err := m.codes.Consume(ctx, q, acc.ID, m.totp.HashBackupCode(code), now)
		if err != nil {
			return "", fmt.Errorf("failed to consume backup code: %w", err)
		}
		if ok {
			return MethodBackupCode, nil
		}
	}

	return "", models.NewTwoFactorError("")
}

func isNumericCode(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
