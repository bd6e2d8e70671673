package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/clinicauth/internal/database"
	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `
	id, handle, email, name, password_hash, role, status,
	failed_attempts, locked_until, first_login, last_login_at,
	verification_token, verification_expires_at, reset_token, reset_expires_at,
	two_factor_enabled, two_factor_secret, two_factor_nonce, two_factor_last_step,
	email_code_hash, email_code_expires_at,
	token_key, created_at, updated_at, created_by, updated_by`

type AccountRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db, pool: db.Pool}
}

// rowScanner interface for scanning account rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAccountRow populates an Account from a row selected with accountColumns
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var acc models.Account
	var status string

	err := scanner.Scan(
		&acc.ID, &acc.Handle, &acc.Email, &acc.Name, &acc.PasswordHash, &acc.Role, &status,
		&acc.FailedAttempts, &acc.LockedUntil, &acc.FirstLogin, &acc.LastLoginAt,
		&acc.VerificationTokenHash, &acc.VerificationExpiresAt, &acc.ResetTokenHash, &acc.ResetExpiresAt,
		&acc.TwoFactorEnabled, &acc.TwoFactorSecret, &acc.TwoFactorNonce, &acc.TwoFactorLastStep,
		&acc.EmailCodeHash, &acc.EmailCodeExpiresAt,
		&acc.TokenKey, &acc.CreatedAt, &acc.UpdatedAt, &acc.CreatedBy, &acc.UpdatedBy,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	acc.Status = models.AccountStatus(status)

	return &acc, nil
}

func (r *AccountRepository) getOne(ctx context.Context, q database.Querier, where string, arg interface{}) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where
	return scanAccountRow(q.QueryRow(ctx, query, arg))
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	return r.getOne(ctx, r.pool, "id = $1", id)
}

func (r *AccountRepository) GetByHandle(ctx context.Context, handle string) (*models.Account, error) {
	return r.getOne(ctx, r.pool, "handle = $1", models.NormalizeHandle(handle))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getOne(ctx, r.pool, "email = $1", models.NormalizeEmail(email))
}

func (r *AccountRepository) GetByVerificationToken(ctx context.Context, tokenHash string) (*models.Account, error) {
	return r.getOne(ctx, r.pool, "verification_token = $1", tokenHash)
}

func (r *AccountRepository) GetByResetToken(ctx context.Context, tokenHash string) (*models.Account, error) {
	return r.getOne(ctx, r.pool, "reset_token = $1", tokenHash)
}

// ListByStatus returns the oldest accounts in the given status first
func (r *AccountRepository) ListByStatus(ctx context.Context, status models.AccountStatus, limit int) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE status = $1 ORDER BY created_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		acc, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return accounts, nil
}

// Create inserts a new account and seeds its password history with the
// initial hash in the same transaction. Handle or email collisions map to ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, acc *models.Account) error {
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	acc.CreatedAt = now
	acc.UpdatedAt = now
	acc.Handle = models.NormalizeHandle(acc.Handle)
	acc.Email = models.NormalizeEmail(acc.Email)

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO accounts (
				id, handle, email, name, password_hash, role, status,
				failed_attempts, first_login,
				verification_token, verification_expires_at,
				reset_token, reset_expires_at,
				token_key, created_at, updated_at, created_by, updated_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12, $13, $14, $14, $15, $15)
		`
		_, err := tx.Exec(ctx, query,
			acc.ID, acc.Handle, acc.Email, acc.Name, acc.PasswordHash, acc.Role, string(acc.Status),
			acc.FirstLogin,
			acc.VerificationTokenHash, acc.VerificationExpiresAt,
			acc.ResetTokenHash, acc.ResetExpiresAt,
			acc.TokenKey, now, acc.CreatedBy,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}

		if _, err := insertHistory(ctx, tx, acc.ID, acc.PasswordHash, now); err != nil {
			return err
		}
		return nil
	})
}

// Mutate loads the account row under SELECT ... FOR UPDATE, applies fn and
// writes every mutable column back in the same transaction. If fn returns an
// error nothing is written and the error is returned unchanged.
func (r *AccountRepository) Mutate(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	return r.MutateWith(ctx, id, func(_ database.Querier, acc *models.Account) error {
		return fn(acc)
	})
}

// MutateWith is Mutate with the open transaction handed to fn, so writes to
// other tables commit or roll back together with the account row.
func (r *AccountRepository) MutateWith(ctx context.Context, id string, fn func(database.Querier, *models.Account) error) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	var updated *models.Account
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		acc, err := r.getOne(ctx, tx, "id = $1 FOR UPDATE", id)
		if err != nil {
			return err
		}

		if err := fn(tx, acc); err != nil {
			return err
		}

		acc.UpdatedAt = time.Now().UTC()
		if err := updateAccount(ctx, tx, acc); err != nil {
			return err
		}
		updated = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func updateAccount(ctx context.Context, q database.Querier, acc *models.Account) error {
	query := `
		UPDATE accounts SET
			name = $2, password_hash = $3, role = $4, status = $5,
			failed_attempts = $6, locked_until = $7, first_login = $8, last_login_at = $9,
			verification_token = $10, verification_expires_at = $11,
			reset_token = $12, reset_expires_at = $13,
			two_factor_enabled = $14, two_factor_secret = $15, two_factor_nonce = $16, two_factor_last_step = $17,
			email_code_hash = $18, email_code_expires_at = $19,
			token_key = $20, updated_at = $21, updated_by = $22
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query,
		acc.ID, acc.Name, acc.PasswordHash, acc.Role, string(acc.Status),
		acc.FailedAttempts, acc.LockedUntil, acc.FirstLogin, acc.LastLoginAt,
		acc.VerificationTokenHash, acc.VerificationExpiresAt,
		acc.ResetTokenHash, acc.ResetExpiresAt,
		acc.TwoFactorEnabled, acc.TwoFactorSecret, acc.TwoFactorNonce, acc.TwoFactorLastStep,
		acc.EmailCodeHash, acc.EmailCodeExpiresAt,
		acc.TokenKey, acc.UpdatedAt, acc.UpdatedBy,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
