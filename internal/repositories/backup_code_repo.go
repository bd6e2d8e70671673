package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/clinicauth/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BackupCodeRepository manages single-use second-factor fallback codes.
// Only SHA-256 hashes are stored.
type BackupCodeRepository struct {
	db *database.DB
}

func NewBackupCodeRepository(db *database.DB) *BackupCodeRepository {
	return &BackupCodeRepository{db: db}
}

// ReplaceAll drops every unused code for the account and inserts a fresh batch.
// Pass a transaction so the swap is atomic.
func (r *BackupCodeRepository) ReplaceAll(ctx context.Context, q database.Querier, accountID string, codeHashes []string) error {
	if err := r.InvalidateAll(ctx, q, accountID); err != nil {
		return err
	}

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(codeHashes))
	for _, h := range codeHashes {
		rows = append(rows, []interface{}{uuid.New().String(), accountID, h, false, now})
	}

	_, err := q.CopyFrom(ctx,
		pgx.Identifier{"backup_codes"},
		[]string{"id", "account_id", "code_hash", "used", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert backup codes: %w", database.MapPostgresError(err))
	}
	return nil
}

// Consume flips a matching unused code to used. The conditional update makes
// two concurrent submissions of the same code succeed at most once. Run inside
// the account's MutateWith transaction the code is released again on rollback.
func (r *BackupCodeRepository) Consume(ctx context.Context, q database.Querier, accountID, codeHash string, at time.Time) (bool, error) {
	query := `
		UPDATE backup_codes SET used = TRUE, used_at = $3
		WHERE id = (
			SELECT id FROM backup_codes
			WHERE account_id = $1 AND code_hash = $2 AND used = FALSE
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND used = FALSE
	`
	tag, err := q.Exec(ctx, query, accountID, codeHash, at)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InvalidateAll removes every unused code for the account
func (r *BackupCodeRepository) InvalidateAll(ctx context.Context, q database.Querier, accountID string) error {
	if _, err := q.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1 AND used = FALSE`, accountID); err != nil {
		return fmt.Errorf("failed to invalidate backup codes: %w", err)
	}
	return nil
}

func (r *BackupCodeRepository) CountUnused(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM backup_codes WHERE account_id = $1 AND used = FALSE`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return n, nil
}
