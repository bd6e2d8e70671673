package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	TOTPPeriod       = 30
	TOTPSkew         = 1
	TOTPSecretSize   = 20 // 160 bits
	BackupCodeCount  = 10
	BackupCodeLength = 8
	EmailCodeDigits  = 6

	// A-Z 2-9 without 0/O/1/I/L
	backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
)

var (
	ErrInvalidTOTPCode = errors.New("invalid TOTP code")
	ErrTOTPCodeReplay  = errors.New("TOTP code already used")
)

// TOTPManager handles TOTP generation, encryption, and validation
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // Issuer name for TOTP QR codes
}

// NewTOTPManager creates a new TOTP manager
// encryptionKey must be exactly 32 bytes for AES-256
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

func (tm *TOTPManager) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    TOTPPeriod,
		Skew:      TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Provision generates a fresh base32 secret for accountName and the payload
// an authenticator app needs to enroll it
func (tm *TOTPManager) Provision(accountName string) (*models.TwoFactorProvisioning, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  TOTPSecretSize,
		Period:      TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qr, err := tm.RenderQR(key.URL())
	if err != nil {
		return nil, err
	}

	return &models.TwoFactorProvisioning{
		Issuer:      key.Issuer(),
		AccountName: key.AccountName(),
		Secret:      key.Secret(),
		URL:         key.URL(),
		QRCode:      qr,
	}, nil
}

// RenderQR encodes an otpauth URL as a PNG data URL
func (tm *TOTPManager) RenderQR(url string) (string, error) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage), nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM
// Returns: (encryptedBytes, nonce, error)
func (tm *TOTPManager) EncryptSecret(secret string) ([]byte, []byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, nil, err
	}

	// Generate random nonce (12 bytes for GCM)
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, []byte(secret), nil), nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret
func (tm *TOTPManager) DecryptSecret(encrypted, nonce []byte) (string, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return "", err
	}

	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("failed to decrypt secret: invalid nonce length %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return string(plaintext), nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// MatchStep returns the time step within ±TOTPSkew of at whose code equals code
func (tm *TOTPManager) MatchStep(secret, code string, at time.Time) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != otp.DigitsSix.Length() {
		return 0, false, nil
	}

	opts := tm.validateOpts()
	current := at.Unix() / TOTPPeriod
	for offset := int64(-TOTPSkew); offset <= TOTPSkew; offset++ {
		step := current + offset
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*TOTPPeriod, 0).UTC(), opts)
		if err != nil {
			return 0, false, fmt.Errorf("failed to generate TOTP code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return step, true, nil
		}
	}
	return 0, false, nil
}

// ValidateTOTP validates a code against a base32 secret at the given instant.
// Steps at or before lastStep are rejected so an accepted code cannot be replayed.
// Returns the accepted step, which the caller persists as the new lastStep.
func (tm *TOTPManager) ValidateTOTP(secret, code string, at time.Time, lastStep int64) (int64, error) {
	step, ok, err := tm.MatchStep(secret, code, at)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInvalidTOTPCode
	}
	if step <= lastStep {
		return 0, ErrTOTPCodeReplay
	}
	return step, nil
}

// GenerateCode returns the code for the step containing at (tests and tooling)
func (tm *TOTPManager) GenerateCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, tm.validateOpts())
}

// GenerateBackupCodes generates N random backup codes
// Format: 8 characters from backupCodeCharset
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	max := big.NewInt(int64(len(backupCodeCharset)))
	for i := 0; i < count; i++ {
		code := make([]byte, BackupCodeLength)
		for j := range code {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, fmt.Errorf("failed to generate random byte: %w", err)
			}
			code[j] = backupCodeCharset[n.Int64()]
		}
		codes[i] = string(code)
	}

	return codes, nil
}

// NormalizeBackupCode uppercases and drops the separators users tend to type
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// LooksLikeBackupCode reports whether code has the backup code shape
func LooksLikeBackupCode(code string) bool {
	code = NormalizeBackupCode(code)
	if len(code) != BackupCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(backupCodeCharset, r) {
			return false
		}
	}
	return true
}

// HashBackupCode returns the SHA-256 hash of a normalized backup code
func (tm *TOTPManager) HashBackupCode(code string) string {
	return models.HashSecretToken(NormalizeBackupCode(code))
}

// GenerateNumericCode returns a random decimal code of the given length
func GenerateNumericCode(digits int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
