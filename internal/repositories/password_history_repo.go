package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/clinicauth/internal/database"
	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PasswordHistoryRepository stores retired password hashes per account
type PasswordHistoryRepository struct {
	db *database.DB
}

func NewPasswordHistoryRepository(db *database.DB) *PasswordHistoryRepository {
	return &PasswordHistoryRepository{db: db}
}

// ListRecent returns the newest entries first
func (r *PasswordHistoryRepository) ListRecent(ctx context.Context, accountID string, limit int) ([]models.PasswordHistoryEntry, error) {
	query := `
		SELECT id, account_id, password_hash, created_at
		FROM password_history
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query password history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PasswordHistoryEntry, error) {
		var e models.PasswordHistoryEntry
		err := row.Scan(&e.ID, &e.AccountID, &e.PasswordHash, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan password history: %w", err)
	}
	return entries, nil
}

// Append records hash and prunes the account's history to the newest keep entries
func (r *PasswordHistoryRepository) Append(ctx context.Context, q database.Querier, accountID, hash string, keep int) error {
	if _, err := insertHistory(ctx, q, accountID, hash, time.Now().UTC()); err != nil {
		return err
	}

	prune := `
		DELETE FROM password_history
		WHERE account_id = $1 AND id NOT IN (
			SELECT id FROM password_history
			WHERE account_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)
	`
	if _, err := q.Exec(ctx, prune, accountID, keep); err != nil {
		return fmt.Errorf("failed to prune password history: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, q database.Querier, accountID, hash string, at time.Time) (string, error) {
	id := uuid.New().String()
	query := `INSERT INTO password_history (id, account_id, password_hash, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := q.Exec(ctx, query, id, accountID, hash, at); err != nil {
		return "", fmt.Errorf("failed to insert password history: %w", database.MapPostgresError(err))
	}
	return id, nil
}
