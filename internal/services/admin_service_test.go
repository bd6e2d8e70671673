package services

import (
	"context"
	"errors"
	"testing"

	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminService_Approve_OnlyFromPendingApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acc, err := env.service.Register(ctx, RegisterInput{Handle: "adm1", Name: "A", Email: "adm1@clinic.test", Password: testPassword})
	require.NoError(t, err)

	_, err = env.admin.Approve(ctx, "admin-1", acc.ID)
	var authErr *models.AuthError
	require.True(t, errors.As(err, &authErr), "email must be verified first")
	assert.Equal(t, models.KindAccountState, authErr.Kind)

	token := ExtractMatch(t, tokenPattern, env.notifier.Last(t, "adm1@clinic.test").Body)
	_, err = env.service.VerifyEmail(ctx, token)
	require.NoError(t, err)

	approved, err := env.admin.Approve(ctx, "admin-1", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, approved.Status)
	require.NotNil(t, approved.UpdatedBy)
	assert.Equal(t, "admin-1", *approved.UpdatedBy)
	assert.Equal(t, "Your account was approved", env.notifier.Last(t, "adm1@clinic.test").Subject)

	_, err = env.admin.Approve(ctx, "admin-1", acc.ID)
	assert.True(t, errors.Is(err, models.ErrAccountState))
}

func TestAdminService_Reject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acc, err := env.service.Register(ctx, RegisterInput{Handle: "adm2", Name: "A", Email: "adm2@clinic.test", Password: testPassword})
	require.NoError(t, err)
	token := ExtractMatch(t, tokenPattern, env.notifier.Last(t, "adm2@clinic.test").Body)

	rejected, err := env.admin.Reject(ctx, "", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Nil(t, rejected.VerificationTokenHash)

	_, err = env.service.VerifyEmail(ctx, token)
	assert.True(t, errors.Is(err, models.ErrToken))

	_, err = env.admin.Approve(ctx, "", acc.ID)
	assert.True(t, errors.Is(err, models.ErrAccountState), "rejected is terminal")
}

func TestAdminService_Reject_ActiveAccountRefused(t *testing.T) {
	env := newTestEnv(t)
	acc := env.registerActive(t, "adm3", "adm3@clinic.test")

	_, err := env.admin.Reject(context.Background(), "", acc.ID)

	assert.True(t, errors.Is(err, models.ErrAccountState))
}

func TestAdminService_Unlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.registerActive(t, "adm4", "adm4@clinic.test")

	_, err := env.admin.Unlock(ctx, "", acc.ID)
	assert.True(t, errors.Is(err, models.ErrAccountState), "only locked accounts can be unlocked")

	for i := 0; i < 3; i++ {
		_, _ = env.service.Login(ctx, "adm4", "Wrong#Pass1")
	}
	require.Equal(t, models.StatusLocked, env.store.Account(t, acc.ID).Status)

	unlocked, err := env.admin.Unlock(ctx, "admin-1", acc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, unlocked.Status)
	assert.Zero(t, unlocked.FailedAttempts)

	_, err = env.service.Login(ctx, "adm4", testPassword)
	assert.NoError(t, err)
}

func TestAdminService_UnknownAccount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.admin.Approve(context.Background(), "", "9b0b2b8e-8a8e-4d63-9d55-4f7c3e1c2a10")

	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestAdminService_CreateStaffAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acc, err := env.admin.CreateStaffAccount(ctx, "admin-1", StaffAccountInput{
		Handle: "recep01",
		Name:   "Front Desk",
		Email:  "Desk@Clinic.test",
		Role:   "Receptionist",
	})
	require.NoError(t, err)
	assert.Equal(t, "RECEP01", acc.Handle)
	assert.Equal(t, models.RoleReceptionist, acc.Role)
	assert.True(t, acc.FirstLogin)
	require.NotNil(t, acc.CreatedBy)
	assert.Equal(t, "admin-1", *acc.CreatedBy)

	msg := env.notifier.Last(t, "desk@clinic.test")
	temp := ExtractMatch(t, tempPasswordPattern, msg.Body)
	assert.True(t, env.hasher.Verify(acc.PasswordHash, temp))

	_, err = env.admin.CreateStaffAccount(ctx, "admin-1", StaffAccountInput{Handle: "recep01", Name: "Dup", Email: "other@clinic.test"})
	assert.True(t, errors.Is(err, models.ErrDuplicate))
}

func TestAdminService_CreateStaffAccount_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		input StaffAccountInput
	}{
		{name: "unknown role", input: StaffAccountInput{Handle: "nurse9", Name: "N", Email: "n9@clinic.test", Role: "surgeon"}},
		{name: "bad handle", input: StaffAccountInput{Handle: "x", Name: "N", Email: "n9@clinic.test"}},
		{name: "bad email", input: StaffAccountInput{Handle: "nurse9", Name: "N", Email: "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.admin.CreateStaffAccount(context.Background(), "", tt.input)
			assert.True(t, errors.Is(err, models.ErrValidation))
		})
	}
}

func TestAdminService_ListPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, h := range []string{"pend1", "pend2"} {
		_, err := env.service.Register(ctx, RegisterInput{Handle: h, Name: "P", Email: h + "@clinic.test", Password: testPassword})
		require.NoError(t, err)
		token := ExtractMatch(t, tokenPattern, env.notifier.Last(t, h+"@clinic.test").Body)
		_, err = env.service.VerifyEmail(ctx, token)
		require.NoError(t, err)
	}
	_, err := env.service.Register(ctx, RegisterInput{Handle: "pend3", Name: "P", Email: "pend3@clinic.test", Password: testPassword})
	require.NoError(t, err)

	pending, err := env.admin.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	for _, acc := range pending {
		assert.Equal(t, models.StatusPendingApproval, acc.Status)
	}
}
