package services

import (
	"context"
	"time"

	"github.com/BradenHooton/clinicauth/internal/database"
	"github.com/BradenHooton/clinicauth/internal/limiters"
	"github.com/BradenHooton/clinicauth/internal/models"
)

// AccountRepository defines the persistence operations the account services need.
// Mutate runs fn against a row-locked copy and persists it only when fn returns nil.
// MutateWith also hands fn the transaction so related rows share its fate.
type AccountRepository interface {
	Create(ctx context.Context, acc *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByHandle(ctx context.Context, handle string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByVerificationToken(ctx context.Context, tokenHash string) (*models.Account, error)
	GetByResetToken(ctx context.Context, tokenHash string) (*models.Account, error)
	ListByStatus(ctx context.Context, status models.AccountStatus, limit int) ([]*models.Account, error)
	Mutate(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
	MutateWith(ctx context.Context, id string, fn func(database.Querier, *models.Account) error) (*models.Account, error)
}

// PasswordHistoryRepository stores retired password hashes
type PasswordHistoryRepository interface {
	ListRecent(ctx context.Context, accountID string, limit int) ([]models.PasswordHistoryEntry, error)
	Append(ctx context.Context, q database.Querier, accountID, passwordHash string, keep int) error
}

// BackupCodeRepository stores hashed single-use backup codes
type BackupCodeRepository interface {
	ReplaceAll(ctx context.Context, q database.Querier, accountID string, codeHashes []string) error
	Consume(ctx context.Context, q database.Querier, accountID, codeHash string, at time.Time) (bool, error)
	InvalidateAll(ctx context.Context, q database.Querier, accountID string) error
	CountUnused(ctx context.Context, accountID string) (int, error)
}

// SettingsRepository reads runtime parameters
type SettingsRepository interface {
	GetDuration(ctx context.Context, key string) (time.Duration, bool, error)
}

// CredentialHasher hashes and verifies secrets
type CredentialHasher interface {
	Hash(secret string) (string, error)
	Verify(hash, secret string) bool
}

// SessionIssuer signs and checks bearer credentials
type SessionIssuer interface {
	IssueSession(acc *models.Account) (string, time.Time, error)
	IssueChallenge(acc *models.Account) (string, time.Time, error)
	ValidateToken(ctx context.Context, tokenString, expectedType string) (*models.TokenClaims, error)
}

// TwoFactorLimiter throttles second-factor submissions per account.
// Attempt spends a slot before the code is evaluated.
type TwoFactorLimiter interface {
	Attempt(ctx context.Context, accountID string) error
	Reset(ctx context.Context, accountID string) error
}

// UnknownHandleCounter tallies failed logins for handles with no account
type UnknownHandleCounter interface {
	RecordFailure(ctx context.Context, handle string, now time.Time) (limiters.HandleFailures, error)
}

// Notifier hands an email to the outbound queue without blocking.
// It reports false when the message was dropped.
type Notifier interface {
	Notify(msg models.EmailMessage) bool
}
