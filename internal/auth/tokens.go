package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/BradenHooton/clinicauth/internal/models"
)

// SecretTokenBytes is the entropy of verification and reset tokens
const SecretTokenBytes = 32

// IssuedToken is a one-time secret. Plain goes to the account holder, Hash to storage.
type IssuedToken struct {
	Plain     string
	Hash      string
	ExpiresAt time.Time
}

// IssueToken generates a random single-use token expiring ttl after now
func IssueToken(now time.Time, ttl time.Duration) (*IssuedToken, error) {
	buf := make([]byte, SecretTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	plain := base64.RawURLEncoding.EncodeToString(buf)
	return &IssuedToken{
		Plain:     plain,
		Hash:      models.HashSecretToken(plain),
		ExpiresAt: now.Add(ttl),
	}, nil
}
