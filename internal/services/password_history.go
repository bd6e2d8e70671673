package services

import (
	"context"
	"fmt"

	"github.com/BradenHooton/clinicauth/internal/database"
	"github.com/BradenHooton/clinicauth/internal/models"
)

// DefaultPasswordHistoryDepth is how many prior hashes are checked for reuse
const DefaultPasswordHistoryDepth = 5

// PasswordHistoryGuard rejects a new password that matches a recent one
type PasswordHistoryGuard struct {
	repo   PasswordHistoryRepository
	hasher CredentialHasher
	depth  int
}

// NewPasswordHistoryGuard creates a PasswordHistoryGuard keeping depth entries
func NewPasswordHistoryGuard(repo PasswordHistoryRepository, hasher CredentialHasher, depth int) *PasswordHistoryGuard {
	if depth <= 0 {
		depth = DefaultPasswordHistoryDepth
	}
	return &PasswordHistoryGuard{repo: repo, hasher: hasher, depth: depth}
}

// Depth returns the number of entries kept per account
func (g *PasswordHistoryGuard) Depth() int {
	return g.depth
}

// Check returns a ReuseError when candidate matches the current hash or any of
// the newest entries in the account's history
func (g *PasswordHistoryGuard) Check(ctx context.Context, acc *models.Account, candidate string) error {
	if g.hasher.Verify(acc.PasswordHash, candidate) {
		return models.NewReuseError(g.depth)
	}

	entries, err := g.repo.ListRecent(ctx, acc.ID, g.depth)
	if err != nil {
		return fmt.Errorf("failed to load password history: %w", err)
	}
	for _, entry := range entries {
		if g.hasher.Verify(entry.PasswordHash, candidate) {
			return models.NewReuseError(g.depth)
		}
	}
	return nil
}

// Record appends hash and prunes the history to the configured depth.
// q is the transaction that writes the new password.
func (g *PasswordHistoryGuard) Record(ctx context.Context, q database.Querier, accountID, passwordHash string) error {
	if err := g.repo.Append(ctx, q, accountID, passwordHash, g.depth); err != nil {
		return fmt.Errorf("failed to record password history: %w", err)
	}
	return nil
}
