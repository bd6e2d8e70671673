package handlers

import (
	"time"

	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/BradenHooton/clinicauth/internal/services"
)

// Request DTOs

type RegisterRequest struct {
	Handle   string `json:"handle" validate:"required,min=3,max=32"`
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type TokenRequest struct {
	Token string `json:"token" validate:"required,max=256"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type LoginRequest struct {
	Handle   string `json:"handle" validate:"required,max=32"`
	Password string `json:"password" validate:"required,max=128"`
}

type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required,max=256"`
	Password        string `json:"password" validate:"required,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

type TwoFactorVerifyRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required,max=16"`
}

type ChallengeRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
}

type CodeRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

type PasswordRequest struct {
	Password string `json:"password" validate:"required,max=128"`
}

type CreateStaffRequest struct {
	Handle string `json:"handle" validate:"required,min=3,max=32"`
	Name   string `json:"name" validate:"required,max=200"`
	Email  string `json:"email" validate:"required,email,max=254"`
	Role   string `json:"role" validate:"omitempty,oneof=staff doctor receptionist admin"`
}

// Response DTOs

type AccountResponse struct {
	ID               string     `json:"id"`
	Handle           string     `json:"handle"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Role             string     `json:"role"`
	Status           string     `json:"status"`
	FirstLogin       bool       `json:"first_login"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func newAccountResponse(acc *models.Account) *AccountResponse {
	if acc == nil {
		return nil
	}
	return &AccountResponse{
		ID:               acc.ID,
		Handle:           acc.Handle,
		Name:             acc.Name,
		Email:            acc.Email,
		Role:             acc.Role,
		Status:           string(acc.Status),
		FirstLogin:       acc.FirstLogin,
		TwoFactorEnabled: acc.TwoFactorEnabled,
		LastLoginAt:      acc.LastLoginAt,
		CreatedAt:        acc.CreatedAt,
	}
}

type SessionResponse struct {
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Account     *AccountResponse `json:"account,omitempty"`
}

func newSessionResponse(s *services.Session) *SessionResponse {
	return &SessionResponse{
		AccessToken: s.Token,
		TokenType:   "Bearer",
		ExpiresAt:   s.ExpiresAt,
		Account:     newAccountResponse(s.Account),
	}
}

// LoginResponse carries one of a session, a password-change token or a 2FA challenge
type LoginResponse struct {
	Status             string           `json:"status"`
	Session            *SessionResponse `json:"session,omitempty"`
	ResetToken         string           `json:"reset_token,omitempty"`
	ResetExpiresAt     *time.Time       `json:"reset_expires_at,omitempty"`
	ChallengeToken     string           `json:"challenge_token,omitempty"`
	ChallengeExpiresAt *time.Time       `json:"challenge_expires_at,omitempty"`
	Methods            []string         `json:"methods,omitempty"`
}

func newLoginResponse(result *services.LoginResult) *LoginResponse {
	resp := &LoginResponse{Status: string(result.Outcome)}
	switch result.Outcome {
	case services.LoginAuthenticated:
		resp.Session = newSessionResponse(result.Session)
	case services.LoginPasswordChangeRequired:
		resp.ResetToken = result.ResetToken
		resp.ResetExpiresAt = &result.ResetExpiresAt
	case services.LoginTwoFactorRequired:
		resp.ChallengeToken = result.ChallengeToken
		resp.ChallengeExpiresAt = &result.ChallengeExpiresAt
		resp.Methods = []string{services.MethodTOTP, services.MethodBackupCode, services.MethodEmailCode}
	}
	return resp
}

type MessageResponse struct {
	Message string `json:"message"`
}

type TwoFactorEnrollmentResponse struct {
	Provisioning *models.TwoFactorProvisioning `json:"provisioning"`
	BackupCodes  []string                      `json:"backup_codes"`
}

type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

type AccountListResponse struct {
	Accounts []*AccountResponse `json:"accounts"`
	Count    int                `json:"count"`
}
