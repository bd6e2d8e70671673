package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrTokenKeyUnavailable is returned when the per-account signing key cannot be resolved
var ErrTokenKeyUnavailable = errors.New("token key unavailable")

// AccountTokenKeyFetcher defines interface for retrieving an account's TokenKey
type AccountTokenKeyFetcher interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// TokenManager handles JWT session and challenge token generation and validation.
// Every token is signed with the global secret concatenated with the account's TokenKey,
// so rotating the TokenKey invalidates all outstanding tokens for that account.
type TokenManager struct {
	secret          string
	sessionExpiry   time.Duration
	challengeExpiry time.Duration
	accountRepo     AccountTokenKeyFetcher
	now             func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, sessionExpiry, challengeExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:          secret,
		sessionExpiry:   sessionExpiry,
		challengeExpiry: challengeExpiry,
		now:             time.Now,
	}
}

// SetAccountRepo wires the lookup used to resolve per-account signing keys at validation time
func (tm *TokenManager) SetAccountRepo(repo AccountTokenKeyFetcher) {
	tm.accountRepo = repo
}

// SetClock overrides the time source (tests)
func (tm *TokenManager) SetClock(now func() time.Time) {
	tm.now = now
}

// SessionExpiry returns the configured session lifetime
func (tm *TokenManager) SessionExpiry() time.Duration {
	return tm.sessionExpiry
}

func (tm *TokenManager) signingKey(tokenKey string) []byte {
	return []byte(tm.secret + tokenKey)
}

// IssueSession mints an access token for a fully authenticated account
func (tm *TokenManager) IssueSession(acc *models.Account) (string, time.Time, error) {
	return tm.issue(acc, models.TokenTypeAccess, tm.sessionExpiry)
}

// IssueChallenge mints a short-lived token that only completes a pending 2FA login
func (tm *TokenManager) IssueChallenge(acc *models.Account) (string, time.Time, error) {
	return tm.issue(acc, models.TokenTypeTwoFactorChallenge, tm.challengeExpiry)
}

func (tm *TokenManager) issue(acc *models.Account, tokenType string, ttl time.Duration) (string, time.Time, error) {
	if acc == nil || acc.ID == "" {
		return "", time.Time{}, fmt.Errorf("cannot sign token: missing account")
	}
	if acc.TokenKey == "" {
		return "", time.Time{}, ErrTokenKeyUnavailable
	}

	now := tm.now()
	expiresAt := now.Add(ttl)

	claims := &models.TokenClaims{
		Type:      tokenType,
		AccountID: acc.ID,
		Handle:    acc.Handle,
		Role:      acc.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   acc.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.signingKey(acc.TokenKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken verifies a token, checks its type and returns its claims.
// A token whose account cannot be loaded never validates.
func (tm *TokenManager) ValidateToken(ctx context.Context, tokenString, expectedType string) (*models.TokenClaims, error) {
	if tm.accountRepo == nil {
		return nil, ErrTokenKeyUnavailable
	}

	claims := &models.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		tmpClaims, ok := token.Claims.(*models.TokenClaims)
		if !ok || tmpClaims.AccountID == "" {
			return nil, fmt.Errorf("invalid token: missing account")
		}

		acc, err := tm.accountRepo.GetByID(ctx, tmpClaims.AccountID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenKeyUnavailable, err)
		}
		if acc.TokenKey == "" {
			return nil, ErrTokenKeyUnavailable
		}
		return tm.signingKey(acc.TokenKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != expectedType {
		return nil, fmt.Errorf("invalid token: expected type %q, got %q", expectedType, claims.Type)
	}

	return claims, nil
}
