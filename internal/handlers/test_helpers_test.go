package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/clinicauth/internal/auth"
	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/BradenHooton/clinicauth/internal/services"
	pkghttp "github.com/BradenHooton/clinicauth/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds session claims to the request context
func WithAuthContext(req *http.Request, accountID, role string) *http.Request {
	claims := &models.TokenClaims{
		Type:      models.TokenTypeAccess,
		AccountID: accountID,
		Role:      role,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response and returns it
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing.
// Unset functions fail the way an unconfigured dependency would.
type MockAuthService struct {
	RegisterFunc               func(ctx context.Context, input services.RegisterInput) (*models.Account, error)
	VerifyEmailFunc            func(ctx context.Context, token string) (*models.Account, error)
	ResendVerificationFunc     func(ctx context.Context, email string) error
	LoginFunc                  func(ctx context.Context, handle, secret string) (*services.LoginResult, error)
	AccountIDFromChallengeFunc func(ctx context.Context, challengeToken string) (string, error)
	VerifyLogin2FAFunc         func(ctx context.Context, accountID, code string) (*services.Session, error)
	RequestEmailCodeFunc       func(ctx context.Context, accountID string) error
	ChangePasswordFunc         func(ctx context.Context, accountID, currentSecret, newSecret, confirmSecret string) (*services.Session, error)
	ForgotPasswordFunc         func(ctx context.Context, email string) error
	ResetPasswordFunc          func(ctx context.Context, token, newSecret, confirmSecret string) error
	EnableTwoFactorFunc        func(ctx context.Context, accountID string) (*services.TwoFactorEnrollment, error)
	ConfirmTwoFactorFunc       func(ctx context.Context, accountID, code string) error
	DisableTwoFactorFunc       func(ctx context.Context, accountID, secret string) error
	RegenerateBackupCodesFunc  func(ctx context.Context, accountID string) ([]string, error)
	LogoutAllFunc              func(ctx context.Context, accountID string) error
	GetAccountFunc             func(ctx context.Context, accountID string) (*models.Account, error)
}

func (m *MockAuthService) Register(ctx context.Context, input services.RegisterInput) (*models.Account, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.RegisterFunc(ctx, input)
}

func (m *MockAuthService) VerifyEmail(ctx context.Context, token string) (*models.Account, error) {
	if m.VerifyEmailFunc == nil {
		return nil, models.NewTokenError()
	}
	return m.VerifyEmailFunc(ctx, token)
}

func (m *MockAuthService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc == nil {
		return nil
	}
	return m.ResendVerificationFunc(ctx, email)
}

func (m *MockAuthService) Login(ctx context.Context, handle, secret string) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.NewInvalidCredentialsError(2)
	}
	return m.LoginFunc(ctx, handle, secret)
}

func (m *MockAuthService) AccountIDFromChallenge(ctx context.Context, challengeToken string) (string, error) {
	if m.AccountIDFromChallengeFunc == nil {
		return "", models.NewTokenError()
	}
	return m.AccountIDFromChallengeFunc(ctx, challengeToken)
}

func (m *MockAuthService) VerifyLogin2FA(ctx context.Context, accountID, code string) (*services.Session, error) {
	if m.VerifyLogin2FAFunc == nil {
		return nil, models.NewTwoFactorError("")
	}
	return m.VerifyLogin2FAFunc(ctx, accountID, code)
}

func (m *MockAuthService) RequestEmailCode(ctx context.Context, accountID string) error {
	if m.RequestEmailCodeFunc == nil {
		return nil
	}
	return m.RequestEmailCodeFunc(ctx, accountID)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, accountID, currentSecret, newSecret, confirmSecret string) (*services.Session, error) {
	if m.ChangePasswordFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.ChangePasswordFunc(ctx, accountID, currentSecret, newSecret, confirmSecret)
}

func (m *MockAuthService) ForgotPassword(ctx context.Context, email string) error {
	if m.ForgotPasswordFunc == nil {
		return nil
	}
	return m.ForgotPasswordFunc(ctx, email)
}

func (m *MockAuthService) ResetPassword(ctx context.Context, token, newSecret, confirmSecret string) error {
	if m.ResetPasswordFunc == nil {
		return models.NewTokenError()
	}
	return m.ResetPasswordFunc(ctx, token, newSecret, confirmSecret)
}

func (m *MockAuthService) EnableTwoFactor(ctx context.Context, accountID string) (*services.TwoFactorEnrollment, error) {
	if m.EnableTwoFactorFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.EnableTwoFactorFunc(ctx, accountID)
}

func (m *MockAuthService) ConfirmTwoFactor(ctx context.Context, accountID, code string) error {
	if m.ConfirmTwoFactorFunc == nil {
		return nil
	}
	return m.ConfirmTwoFactorFunc(ctx, accountID, code)
}

func (m *MockAuthService) DisableTwoFactor(ctx context.Context, accountID, secret string) error {
	if m.DisableTwoFactorFunc == nil {
		return nil
	}
	return m.DisableTwoFactorFunc(ctx, accountID, secret)
}

func (m *MockAuthService) RegenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	if m.RegenerateBackupCodesFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.RegenerateBackupCodesFunc(ctx, accountID)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, accountID string) error {
	if m.LogoutAllFunc == nil {
		return nil
	}
	return m.LogoutAllFunc(ctx, accountID)
}

func (m *MockAuthService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	if m.GetAccountFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetAccountFunc(ctx, accountID)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	ApproveFunc            func(ctx context.Context, actorID, accountID string) (*models.Account, error)
	RejectFunc             func(ctx context.Context, actorID, accountID string) (*models.Account, error)
	UnlockFunc             func(ctx context.Context, actorID, accountID string) (*models.Account, error)
	CreateStaffAccountFunc func(ctx context.Context, actorID string, input services.StaffAccountInput) (*models.Account, error)
	ListPendingFunc        func(ctx context.Context, limit int) ([]*models.Account, error)
}

func (m *MockAdminService) Approve(ctx context.Context, actorID, accountID string) (*models.Account, error) {
	if m.ApproveFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ApproveFunc(ctx, actorID, accountID)
}

func (m *MockAdminService) Reject(ctx context.Context, actorID, accountID string) (*models.Account, error) {
	if m.RejectFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.RejectFunc(ctx, actorID, accountID)
}

func (m *MockAdminService) Unlock(ctx context.Context, actorID, accountID string) (*models.Account, error) {
	if m.UnlockFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UnlockFunc(ctx, actorID, accountID)
}

func (m *MockAdminService) CreateStaffAccount(ctx context.Context, actorID string, input services.StaffAccountInput) (*models.Account, error) {
	if m.CreateStaffAccountFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.CreateStaffAccountFunc(ctx, actorID, input)
}

func (m *MockAdminService) ListPending(ctx context.Context, limit int) ([]*models.Account, error) {
	if m.ListPendingFunc == nil {
		return nil, nil
	}
	return m.ListPendingFunc(ctx, limit)
}
