//go:build integration

package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/clinicauth/internal/database"
	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDatabase starts a PostgreSQL container and applies the embedded migrations
func setupTestDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("clinicauth"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := &database.DB{Pool: pool}
	require.NoError(t, db.Migrate(ctx))
	return db
}

func seedAccount(t *testing.T, repo *AccountRepository, handle string) *models.Account {
	t.Helper()
	acc := &models.Account{
		Handle:       handle,
		Email:        handle + "@Clinic.Test",
		Name:         "Test " + handle,
		PasswordHash: "hash-" + handle,
		Role:         models.RoleStaff,
		Status:       models.StatusActive,
		TokenKey:     "token-key",
	}
	require.NoError(t, repo.Create(context.Background(), acc))
	return acc
}

func TestAccountRepository_CreateAndLookup(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewAccountRepository(db)
	history := NewPasswordHistoryRepository(db)
	ctx := context.Background()

	acc := seedAccount(t, repo, "jdoe")

	byHandle, err := repo.GetByHandle(ctx, "JDoe")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, byHandle.ID)
	assert.Equal(t, "JDOE", byHandle.Handle)

	byEmail, err := repo.GetByEmail(ctx, "JDOE@clinic.test")
	require.NoError(t, err)
	assert.Equal(t, "jdoe@clinic.test", byEmail.Email)

	entries, err := history.ListRecent(ctx, acc.ID, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1, "initial hash is recorded")
	assert.Equal(t, "hash-jdoe", entries[0].PasswordHash)

	_, err = repo.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountRepository_DuplicateHandleOrEmail(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewAccountRepository(db)
	seedAccount(t, repo, "jdoe")

	dupHandle := &models.Account{Handle: "JDOE", Email: "other@clinic.test", Name: "x", PasswordHash: "h", Role: "staff", Status: models.StatusActive, TokenKey: "k"}
	assert.ErrorIs(t, repo.Create(context.Background(), dupHandle), models.ErrConflict)

	dupEmail := &models.Account{Handle: "OTHER", Email: "JDOE@clinic.test", Name: "x", PasswordHash: "h", Role: "staff", Status: models.StatusActive, TokenKey: "k"}
	assert.ErrorIs(t, repo.Create(context.Background(), dupEmail), models.ErrConflict)
}

func TestAccountRepository_MutateRollsBackOnError(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	acc := seedAccount(t, repo, "jdoe")

	sentinel := errors.New("abort")
	_, err := repo.Mutate(ctx, acc.ID, func(a *models.Account) error {
		a.FailedAttempts = 2
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	reloaded, err := repo.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.FailedAttempts)
}

func TestAccountRepository_MutateSerializesConcurrentIncrements(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	acc := seedAccount(t, repo, "jdoe")

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Mutate(ctx, acc.ID, func(a *models.Account) error {
				a.FailedAttempts++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	reloaded, err := repo.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, reloaded.FailedAttempts)
}

func TestAccountRepository_TokenLookups(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	acc := seedAccount(t, repo, "jdoe")
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)

	_, err := repo.Mutate(ctx, acc.ID, func(a *models.Account) error {
		a.SetResetToken(models.HashSecretToken("reset-plain"), expires)
		return nil
	})
	require.NoError(t, err)

	found, err := repo.GetByResetToken(ctx, models.HashSecretToken("reset-plain"))
	require.NoError(t, err)
	assert.Equal(t, acc.ID, found.ID)
	assert.True(t, found.ResetTokenMatches("reset-plain", time.Now()))

	_, err = repo.GetByVerificationToken(ctx, models.HashSecretToken("reset-plain"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPasswordHistoryRepository_PrunesToKeep(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewAccountRepository(db)
	history := NewPasswordHistoryRepository(db)
	ctx := context.Background()
	acc := seedAccount(t, repo, "jdoe")

	for i := 0; i < 7; i++ {
		require.NoError(t, history.Append(ctx, db.Pool, acc.ID, fmt.Sprintf("hash-%d", i), 5))
	}

	entries, err := history.ListRecent(ctx, acc.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "hash-6", entries[0].PasswordHash)
	assert.Equal(t, "hash-2", entries[4].PasswordHash)
}

func TestBackupCodeRepository_ConsumeOnce(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewAccountRepository(db)
	codes := NewBackupCodeRepository(db)
	ctx := context.Background()
	acc := seedAccount(t, repo, "jdoe")

	require.NoError(t, codes.ReplaceAll(ctx, db.Pool, acc.ID, []string{"h1", "h2", "h3"}))

	ok, err := codes.Consume(ctx, db.Pool, acc.ID, "h2", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = codes.Consume(ctx, db.Pool, acc.ID, "h2", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := codes.CountUnused(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, codes.ReplaceAll(ctx, db.Pool, acc.ID, []string{"h4"}))
	ok, err = codes.Consume(ctx, db.Pool, acc.ID, "h1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "regeneration invalidates older codes")

	require.NoError(t, codes.InvalidateAll(ctx, db.Pool, acc.ID))
	n, err = codes.CountUnused(ctx, acc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAccountRepository_MutateWithRollsBackRelatedWrites(t *testing.T) {
	db := setupTestDatabase(t)
	repo := NewAccountRepository(db)
	codes := NewBackupCodeRepository(db)
	history := NewPasswordHistoryRepository(db)
	ctx := context.Background()
	acc := seedAccount(t, repo, "jdoe")
	require.NoError(t, codes.ReplaceAll(ctx, db.Pool, acc.ID, []string{"h1", "h2"}))

	abort := errors.New("abort")
	_, err := repo.MutateWith(ctx, acc.ID, func(q database.Querier, a *models.Account) error {
		ok, err := codes.Consume(ctx, q, a.ID, "h1", time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, history.Append(ctx, q, a.ID, "hash-next", 5))
		a.FailedAttempts = 2
		return abort
	})
	require.ErrorIs(t, err, abort)

	n, err := codes.CountUnused(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the consumed code is released")

	entries, err := history.ListRecent(ctx, acc.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the registration hash remains")

	stored, err := repo.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)

	_, err = repo.MutateWith(ctx, acc.ID, func(q database.Querier, a *models.Account) error {
		ok, err := codes.Consume(ctx, q, a.ID, "h1", time.Now())
		if err != nil || !ok {
			return fmt.Errorf("consume: %v %v", ok, err)
		}
		return nil
	})
	require.NoError(t, err)
	n, err = codes.CountUnused(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSettingsRepository_GetDuration(t *testing.T) {
	db := setupTestDatabase(t)
	settings := NewSettingsRepository(db)
	ctx := context.Background()

	_, ok, err := settings.GetDuration(ctx, SettingResetTokenTTL)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, settings.Set(ctx, SettingResetTokenTTL, "2h"))
	d, ok, err := settings.GetDuration(ctx, SettingResetTokenTTL)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Hour, d)

	require.NoError(t, settings.Set(ctx, SettingResetTokenTTL, "soon"))
	_, _, err = settings.GetDuration(ctx, SettingResetTokenTTL)
	assert.Error(t, err)
}
