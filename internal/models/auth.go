package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim
const (
	TokenTypeAccess             = "access"
	TokenTypeTwoFactorChallenge = "2fa_challenge"
)

// TokenClaims are the claims of every bearer credential the service signs
type TokenClaims struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	Handle    string `json:"handle,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// PasswordHistoryEntry is one retired credential hash
type PasswordHistoryEntry struct {
	ID           string
	AccountID    string
	PasswordHash string
	CreatedAt    time.Time
}

// BackupCode is a single-use fallback for the second factor. Only the hash is stored.
type BackupCode struct {
	ID        string
	AccountID string
	CodeHash  string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// TwoFactorProvisioning is what an authenticator app needs to enroll
type TwoFactorProvisioning struct {
	Issuer      string `json:"issuer"`
	AccountName string `json:"account_name"`
	Secret      string `json:"secret"`
	URL         string `json:"otpauth_url"`
	QRCode      string `json:"qr_code"` // PNG data URL
}

// EmailMessage is an outbound notification handed to the mail queue
type EmailMessage struct {
	To      string
	Subject string
	Body    string
}
