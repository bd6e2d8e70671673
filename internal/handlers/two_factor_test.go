package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/clinicauth/internal/handlers"
	"github.com/BradenHooton/clinicauth/internal/limiters"
	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/BradenHooton/clinicauth/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func challengeResolver(accountID string) func(ctx context.Context, challengeToken string) (string, error) {
	return func(ctx context.Context, challengeToken string) (string, error) {
		if challengeToken != "valid-challenge" {
			return "", models.NewTokenError()
		}
		return accountID, nil
	}
}

func TestVerifyTwoFactor_Success(t *testing.T) {
	var gotAccount, gotCode string
	mock := &handlers.MockAuthService{
		AccountIDFromChallengeFunc: challengeResolver("acc-2fa"),
		VerifyLogin2FAFunc: func(ctx context.Context, accountID, code string) (*services.Session, error) {
			gotAccount, gotCode = accountID, code
			return &services.Session{Token: "session", ExpiresAt: time.Now().Add(time.Hour), Account: activeAccount()}, nil
		},
	}

	w := httptest.NewRecorder()
	handlers.NewAuthHandler(mock, nil).VerifyTwoFactor(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/2fa/verify", handlers.TwoFactorVerifyRequest{
		ChallengeToken: "valid-challenge",
		Code:           "123456",
	}))

	var resp handlers.SessionResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "session", resp.AccessToken)
	assert.Equal(t, "acc-2fa", gotAccount)
	assert.Equal(t, "123456", gotCode)
}

func TestVerifyTwoFactor_Errors(t *testing.T) {
	tests := []struct {
		name       string
		challenge  string
		verifyErr  error
		wantStatus int
		wantError  string
	}{
		{name: "bad challenge", challenge: "forged", wantStatus: http.StatusBadRequest, wantError: "invalid_token"},
		{name: "wrong code", challenge: "valid-challenge", verifyErr: models.NewTwoFactorError(""), wantStatus: http.StatusUnauthorized, wantError: "two_factor_failed"},
		{
			name:       "rate limited",
			challenge:  "valid-challenge",
			verifyErr:  &models.AuthError{Kind: models.KindTwoFactor, Message: "too many verification attempts", Err: limiters.ErrTwoFactorRateLimited},
			wantStatus: http.StatusTooManyRequests,
			wantError:  "rate_limit_exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockAuthService{
				AccountIDFromChallengeFunc: challengeResolver("acc-2fa"),
				VerifyLogin2FAFunc: func(ctx context.Context, accountID, code string) (*services.Session, error) {
					return nil, tt.verifyErr
				},
			}

			w := httptest.NewRecorder()
			handlers.NewAuthHandler(mock, nil).VerifyTwoFactor(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/2fa/verify", handlers.TwoFactorVerifyRequest{
				ChallengeToken: tt.challenge,
				Code:           "000000",
			}))

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantError)
		})
	}
}

func TestRequestEmailCode(t *testing.T) {
	var got string
	mock := &handlers.MockAuthService{
		AccountIDFromChallengeFunc: challengeResolver("acc-mail"),
		RequestEmailCodeFunc: func(ctx context.Context, accountID string) error {
			got = accountID
			return nil
		},
	}

	w := httptest.NewRecorder()
	handlers.NewAuthHandler(mock, nil).RequestEmailCode(w, handlers.NewTestRequest(t, http.MethodPost, "/auth/2fa/email-code", handlers.ChallengeRequest{
		ChallengeToken: "valid-challenge",
	}))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "acc-mail", got)
}

func TestEnableTwoFactor(t *testing.T) {
	mock := &handlers.MockAuthService{
		EnableTwoFactorFunc: func(ctx context.Context, accountID string) (*services.TwoFactorEnrollment, error) {
			return &services.TwoFactorEnrollment{
				Provisioning: &models.TwoFactorProvisioning{Issuer: "Clinica", AccountName: "NURSE01", Secret: "JBSWY3DPEHPK3PXP"},
				BackupCodes:  []string{"ABCD2345", "EFGH6789"},
			}, nil
		},
	}

	req := handlers.WithAuthContext(httptest.NewRequest(http.MethodPost, "/auth/2fa/enable", nil), "acc-1", models.RoleStaff)
	w := httptest.NewRecorder()
	handlers.NewAuthHandler(mock, nil).EnableTwoFactor(w, req)

	var resp handlers.TwoFactorEnrollmentResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.NotNil(t, resp.Provisioning)
	assert.Equal(t, "Clinica", resp.Provisioning.Issuer)
	assert.Len(t, resp.BackupCodes, 2)
}

func TestConfirmTwoFactor_InvalidCode(t *testing.T) {
	mock := &handlers.MockAuthService{
		ConfirmTwoFactorFunc: func(ctx context.Context, accountID, code string) error {
			return models.NewTwoFactorError("")
		},
	}

	req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPost, "/auth/2fa/confirm", handlers.CodeRequest{Code: "999999"}), "acc-1", models.RoleStaff)
	w := httptest.NewRecorder()
	handlers.NewAuthHandler(mock, nil).ConfirmTwoFactor(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "two_factor_failed")
}

func TestDisableTwoFactor_WrongPassword(t *testing.T) {
	mock := &handlers.MockAuthService{
		DisableTwoFactorFunc: func(ctx context.Context, accountID, secret string) error {
			return &models.AuthError{Kind: models.KindInvalidCredentials, Message: "password is incorrect"}
		},
	}

	req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPost, "/auth/2fa/disable", handlers.PasswordRequest{Password: "nope"}), "acc-1", models.RoleStaff)
	w := httptest.NewRecorder()
	handlers.NewAuthHandler(mock, nil).DisableTwoFactor(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "invalid_credentials")
	assert.Nil(t, resp.AttemptsRemaining)
}

func TestRegenerateBackupCodes(t *testing.T) {
	mock := &handlers.MockAuthService{
		RegenerateBackupCodesFunc: func(ctx context.Context, accountID string) ([]string, error) {
			return []string{"AAAA2222"}, nil
		},
	}

	req := handlers.WithAuthContext(httptest.NewRequest(http.MethodPost, "/auth/2fa/backup-codes", nil), "acc-1", models.RoleStaff)
	w := httptest.NewRecorder()
	handlers.NewAuthHandler(mock, nil).RegenerateBackupCodes(w, req)

	var resp handlers.BackupCodesResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, []string{"AAAA2222"}, resp.BackupCodes)
}
