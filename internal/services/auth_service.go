package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/BradenHooton/clinicauth/internal/auth"
	"github.com/BradenHooton/clinicauth/internal/database"
	"github.com/BradenHooton/clinicauth/internal/limiters"
	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/BradenHooton/clinicauth/internal/repositories"
	pkgauth "github.com/BradenHooton/clinicauth/pkg/auth"
	pkglogger "github.com/BradenHooton/clinicauth/pkg/logger"
)

const (
	DefaultVerificationTokenTTL = 24 * time.Hour
	DefaultResetTokenTTL        = time.Hour
	DefaultFirstLoginTokenTTL   = 15 * time.Minute
	DefaultEmailCodeTTL         = 10 * time.Minute
)

// AuthConfig holds the tunables of the auth orchestrator
type AuthConfig struct {
	Lockout              LockoutPolicy
	VerificationTokenTTL time.Duration
	ResetTokenTTL        time.Duration
	FirstLoginTokenTTL   time.Duration
	EmailCodeTTL         time.Duration
	PasswordHistoryDepth int
}

func (c AuthConfig) withDefaults() AuthConfig {
	c.Lockout = c.Lockout.withDefaults()
	if c.VerificationTokenTTL <= 0 {
		c.VerificationTokenTTL = DefaultVerificationTokenTTL
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = DefaultResetTokenTTL
	}
	if c.FirstLoginTokenTTL <= 0 {
		c.FirstLoginTokenTTL = DefaultFirstLoginTokenTTL
	}
	if c.EmailCodeTTL <= 0 {
		c.EmailCodeTTL = DefaultEmailCodeTTL
	}
	if c.PasswordHistoryDepth <= 0 {
		c.PasswordHistoryDepth = DefaultPasswordHistoryDepth
	}
	return c
}

// AuthDeps wires the collaborators of AuthService. Limiter, Settings and Timing are optional.
// UnknownHandles falls back to an in-process counter.
type AuthDeps struct {
	Accounts       AccountRepository
	History        PasswordHistoryRepository
	BackupCodes    BackupCodeRepository
	Settings       SettingsRepository
	Hasher         CredentialHasher
	Tokens         SessionIssuer
	TOTP           *auth.TOTPManager
	Limiter        TwoFactorLimiter
	UnknownHandles UnknownHandleCounter
	Notifier       Notifier
	Messages       *MessageBuilder
	Timing         *auth.TimingDelay
	Logger         *slog.Logger
	AuditLogger    *pkglogger.AuditLogger
	Config         AuthConfig
}

// AuthService orchestrates registration, login, password lifecycle and two-factor flows
type AuthService struct {
	accounts    AccountRepository
	settings    SettingsRepository
	hasher      CredentialHasher
	tokens      SessionIssuer
	governor    *LoginGovernor
	history     *PasswordHistoryGuard
	twoFactor   *TwoFactorManager
	limiter     TwoFactorLimiter
	unknown     UnknownHandleCounter
	notifier    Notifier
	messages    *MessageBuilder
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	config      AuthConfig
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthDeps) *AuthService {
	cfg := deps.Config.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auditLogger := deps.AuditLogger
	if auditLogger == nil {
		auditLogger = pkglogger.NewAuditLogger(logger)
	}
	messages := deps.Messages
	if messages == nil {
		messages = NewMessageBuilder("")
	}
	unknown := deps.UnknownHandles
	if unknown == nil {
		unknown = limiters.NewMemoryHandleCounter(limiters.UnknownHandleConfig{
			Threshold: cfg.Lockout.Threshold,
			Lockout:   cfg.Lockout.Duration,
		})
	}

	return &AuthService{
		accounts:    deps.Accounts,
		settings:    deps.Settings,
		hasher:      deps.Hasher,
		tokens:      deps.Tokens,
		governor:    NewLoginGovernor(cfg.Lockout, deps.Hasher),
		history:     NewPasswordHistoryGuard(deps.History, deps.Hasher, cfg.PasswordHistoryDepth),
		twoFactor:   NewTwoFactorManager(deps.TOTP, deps.BackupCodes),
		limiter:     deps.Limiter,
		unknown:     unknown,
		notifier:    deps.Notifier,
		messages:    messages,
		timing:      deps.Timing,
		logger:      logger,
		auditLogger: auditLogger,
		config:      cfg,
		now:         time.Now,
	}
}

// SetClock overrides the time source (tests)
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// RegisterInput is the self-service registration payload
type RegisterInput struct {
	Handle   string
	Name     string
	Email    string
	Password string
}

// Session is an issued bearer credential
type Session struct {
	Token     string
	ExpiresAt time.Time
	Account   *models.Account
}

// LoginOutcome tells the caller what the login step produced
type LoginOutcome string

const (
	LoginAuthenticated          LoginOutcome = "authenticated"
	LoginPasswordChangeRequired LoginOutcome = "password_change_required"
	LoginTwoFactorRequired      LoginOutcome = "two_factor_required"
)

// LoginResult is the result of a successful password step.
// Exactly one of Session, ResetToken or ChallengeToken is set, according to Outcome.
type LoginResult struct {
	Outcome            LoginOutcome
	AccountID          string
	Session            *Session
	ResetToken         string
	ResetExpiresAt     time.Time
	ChallengeToken     string
	ChallengeExpiresAt time.Time
}

// TwoFactorEnrollment is returned once when two-factor setup starts
type TwoFactorEnrollment struct {
	Provisioning *models.TwoFactorProvisioning
	BackupCodes  []string
}

// Register creates a PENDING_VERIFICATION account and emails its verification link
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*models.Account, error) {
	handle := models.NormalizeHandle(input.Handle)
	email := models.NormalizeEmail(input.Email)
	name := strings.TrimSpace(input.Name)

	if err := pkgauth.ValidateHandle(handle); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if name == "" {
		return nil, models.NewValidationError("name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, models.NewValidationError("invalid email address")
	}
	if err := pkgauth.ValidatePassword(input.Password); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	if err := s.ensureAvailable(ctx, handle, email); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	tokenKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return nil, err
	}
	now := s.now()
	token, err := auth.IssueToken(now, s.config.VerificationTokenTTL)
	if err != nil {
		return nil, err
	}

	acc := &models.Account{
		Handle:       handle,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         models.RoleStaff,
		Status:       models.StatusPendingVerification,
		TokenKey:     tokenKey,
	}
	acc.SetVerificationToken(token.Hash, token.ExpiresAt)

	if err := s.accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.NewDuplicateError()
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.notify(s.messages.Verification(acc, token.Plain, token.ExpiresAt))
	s.auditLogger.LogAccountAction(ctx, "account_registered", acc.ID, map[string]string{"handle": acc.Handle})
	s.logger.Info("account registered", slog.String("account_id", acc.ID))

	return acc, nil
}

func (s *AuthService) ensureAvailable(ctx context.Context, handle, email string) error {
	_, err := s.accounts.GetByHandle(ctx, handle)
	if err == nil {
		return models.NewDuplicateError()
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check handle: %w", err)
	}

	_, err = s.accounts.GetByEmail(ctx, email)
	if err == nil {
		return models.NewDuplicateError()
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check email: %w", err)
	}
	return nil
}

// VerifyEmail consumes a verification token and moves the account to PENDING_APPROVAL
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*models.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, models.NewTokenError()
	}

	found, err := s.accounts.GetByVerificationToken(ctx, models.HashSecretToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewTokenError()
		}
		return nil, fmt.Errorf("failed to look up verification token: %w", err)
	}

	now := s.now()
	acc, err := s.accounts.Mutate(ctx, found.ID, func(a *models.Account) error {
		// re-checked under the row lock so a token is consumed once
		if !a.VerificationTokenMatches(token, now) {
			return models.NewTokenError()
		}
		if err := a.TransitionTo(models.StatusPendingApproval); err != nil {
			return err
		}
		a.ClearVerificationToken()
		return nil
	})
	if err != nil {
		return nil, s.mutateError("verify email", err)
	}

	s.auditLogger.LogAccountAction(ctx, "email_verified", acc.ID, nil)
	return acc, nil
}

// ResendVerification issues a fresh verification token. Unknown or already
// verified addresses are ignored so the response never reveals which exist.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	found, err := s.accounts.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if found.Status != models.StatusPendingVerification {
		return nil
	}

	now := s.now()
	token, err := auth.IssueToken(now, s.config.VerificationTokenTTL)
	if err != nil {
		return err
	}
	acc, err := s.accounts.Mutate(ctx, found.ID, func(a *models.Account) error {
		if a.Status != models.StatusPendingVerification {
			return models.NewAccountStateError(a.Status)
		}
		a.SetVerificationToken(token.Hash, token.ExpiresAt)
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrAccountState) {
			return nil
		}
		return s.mutateError("resend verification", err)
	}

	s.notify(s.messages.Verification(acc, token.Plain, token.ExpiresAt))
	return nil
}

// Login runs the credential step for handle. Failures are counted and may lock the account.
func (s *AuthService) Login(ctx context.Context, handle, secret string) (*LoginResult, error) {
	start := time.Now()
	handle = models.NormalizeHandle(handle)
	if handle == "" || secret == "" {
		return nil, models.NewValidationError("handle and password are required")
	}

	found, err := s.accounts.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			authErr := s.unknownHandleFailure(ctx, handle)
			s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
				EventType:     "login_failed",
				Handle:        handle,
				FailureReason: "unknown_handle",
			})
			s.timing.WaitFrom(ctx, start, false)
			return nil, authErr
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	now := s.now()
	var outcome error
	var resetToken *auth.IssuedToken
	acc, err := s.accounts.Mutate(ctx, found.ID, func(a *models.Account) error {
		// the outcome is captured rather than returned so counter changes commit
		outcome = s.governor.Attempt(a, secret, now)
		if outcome == nil && a.FirstLogin {
			token, err := auth.IssueToken(now, s.config.FirstLoginTokenTTL)
			if err != nil {
				return err
			}
			a.SetResetToken(token.Hash, token.ExpiresAt)
			resetToken = token
		}
		return nil
	})
	if err != nil {
		return nil, s.mutateError("login", err)
	}

	if outcome != nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "login_failed",
			AccountID:     acc.ID,
			Handle:        acc.Handle,
			FailureReason: failureReason(outcome),
		})
		if errors.Is(outcome, models.ErrLocked) && acc.FailedAttempts >= s.governor.Policy().Threshold {
			s.logger.Warn("account locked after failed logins",
				slog.String("account_id", acc.ID),
				slog.Int("failed_attempts", acc.FailedAttempts))
		}
		s.timing.WaitFrom(ctx, start, false)
		return nil, outcome
	}

	if resetToken != nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType: "login_password_change_required",
			AccountID: acc.ID,
			Handle:    acc.Handle,
			Success:   true,
		})
		return &LoginResult{
			Outcome:        LoginPasswordChangeRequired,
			AccountID:      acc.ID,
			ResetToken:     resetToken.Plain,
			ResetExpiresAt: resetToken.ExpiresAt,
		}, nil
	}

	if acc.TwoFactorEnabled {
		challenge, expiresAt, err := s.tokens.IssueChallenge(acc)
		if err != nil {
			return nil, fmt.Errorf("failed to issue challenge token: %w", err)
		}
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType: "login_two_factor_required",
			AccountID: acc.ID,
			Handle:    acc.Handle,
			Success:   true,
		})
		return &LoginResult{
			Outcome:            LoginTwoFactorRequired,
			AccountID:          acc.ID,
			ChallengeToken:     challenge,
			ChallengeExpiresAt: expiresAt,
		}, nil
	}

	session, err := s.issueSession(acc)
	if err != nil {
		return nil, err
	}
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "login_success",
		AccountID: acc.ID,
		Handle:    acc.Handle,
		Success:   true,
	})
	return &LoginResult{Outcome: LoginAuthenticated, AccountID: acc.ID, Session: session}, nil
}

// AccountIDFromChallenge resolves the account a two-factor challenge token was issued to
func (s *AuthService) AccountIDFromChallenge(ctx context.Context, challengeToken string) (string, error) {
	claims, err := s.tokens.ValidateToken(ctx, challengeToken, models.TokenTypeTwoFactorChallenge)
	if err != nil {
		s.logger.Debug("challenge token rejected", slog.Any("error", err))
		return "", models.NewTokenError()
	}
	return claims.AccountID, nil
}

// VerifyLogin2FA completes a login with a TOTP code, backup code or email code
func (s *AuthService) VerifyLogin2FA(ctx context.Context, accountID, code string) (*Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, models.NewValidationError("code is required")
	}
	if err := s.checkTwoFactorLimit(ctx, accountID); err != nil {
		return nil, err
	}

	now := s.now()
	var method string
	var verifyErr error
	acc, err := s.accounts.MutateWith(ctx, accountID, func(q database.Querier, a *models.Account) error {
		if a.Status != models.StatusActive {
			return models.NewAccountStateError(a.Status)
		}
		if !a.TwoFactorEnabled {
			return models.NewTwoFactorError("two-factor authentication is not enabled")
		}
		method, verifyErr = s.twoFactor.VerifyLogin(ctx, q, a, code, now)
		if verifyErr != nil && !errors.Is(verifyErr, models.ErrTwoFactor) {
			return verifyErr
		}
		return nil
	})
	if err != nil {
		return nil, s.mutateError("verify second factor", err)
	}

	if verifyErr != nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "two_factor_failed",
			AccountID:     acc.ID,
			Handle:        acc.Handle,
			FailureReason: "invalid_code",
		})
		return nil, verifyErr
	}

	s.resetTwoFactorLimit(ctx, accountID)
	metadata := map[string]string{"method": method}
	if method == MethodBackupCode {
		if remaining, err := s.twoFactor.RemainingBackupCodes(ctx, acc.ID); err == nil {
			metadata["backup_codes_remaining"] = fmt.Sprintf("%d", remaining)
		}
	}
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "two_factor_success",
		AccountID: acc.ID,
		Handle:    acc.Handle,
		Success:   true,
		Metadata:  metadata,
	})

	return s.issueSession(acc)
}

// RequestEmailCode emails a short-lived second-factor code to an account with 2FA enabled
func (s *AuthService) RequestEmailCode(ctx context.Context, accountID string) error {
	code, err := auth.GenerateNumericCode(auth.EmailCodeDigits)
	if err != nil {
		return err
	}
	now := s.now()
	expiresAt := now.Add(s.config.EmailCodeTTL)

	acc, err := s.accounts.Mutate(ctx, accountID, func(a *models.Account) error {
		if a.Status != models.StatusActive {
			return models.NewAccountStateError(a.Status)
		}
		if !a.TwoFactorEnabled {
			return models.NewTwoFactorError("two-factor authentication is not enabled")
		}
		a.SetEmailCode(models.HashSecretToken(code), expiresAt)
		return nil
	})
	if err != nil {
		return s.mutateError("request email code", err)
	}

	s.notify(s.messages.EmailCode(acc, code, expiresAt))
	s.auditLogger.LogAccountAction(ctx, "two_factor_email_code_sent", acc.ID, nil)
	return nil
}

// ChangePassword replaces the password of an authenticated account.
// All existing sessions are invalidated and a fresh one is returned.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, currentSecret, newSecret, confirmSecret string) (*Session, error) {
	if err := validateNewPassword(newSecret, confirmSecret); err != nil {
		return nil, err
	}

	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if acc.Status != models.StatusActive {
		return nil, models.NewAccountStateError(acc.Status)
	}
	if !s.hasher.Verify(acc.PasswordHash, currentSecret) {
		s.auditLogger.LogPasswordChange(ctx, acc.ID, "change", false, "wrong_current_password")
		return nil, &models.AuthError{Kind: models.KindInvalidCredentials, Message: "current password is incorrect"}
	}
	if err := s.history.Check(ctx, acc, newSecret); err != nil {
		s.auditLogger.LogPasswordChange(ctx, acc.ID, "change", false, failureReason(err))
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(newSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	tokenKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return nil, err
	}

	updated, err := s.accounts.MutateWith(ctx, acc.ID, func(q database.Querier, a *models.Account) error {
		if a.Status != models.StatusActive {
			return models.NewAccountStateError(a.Status)
		}
		// the current password was verified against acc; a concurrent change voids that check
		if a.PasswordHash != acc.PasswordHash {
			return &models.AuthError{Kind: models.KindInvalidCredentials, Message: "current password is incorrect"}
		}
		a.PasswordHash = passwordHash
		a.FirstLogin = false
		a.TokenKey = tokenKey
		a.ClearResetToken()
		return s.history.Record(ctx, q, a.ID, passwordHash)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			s.auditLogger.LogPasswordChange(ctx, acc.ID, "change", false, "password_changed_concurrently")
		}
		return nil, s.mutateError("change password", err)
	}

	s.afterPasswordCommit(ctx, updated, "change")
	return s.issueSession(updated)
}

// ForgotPassword emails a reset link when email belongs to an account.
// The caller always sees the same result.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	found, err := s.accounts.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if found.Status == models.StatusRejected {
		return nil
	}

	now := s.now()
	token, err := auth.IssueToken(now, s.resetTokenTTL(ctx))
	if err != nil {
		return err
	}
	acc, err := s.accounts.Mutate(ctx, found.ID, func(a *models.Account) error {
		a.SetResetToken(token.Hash, token.ExpiresAt)
		return nil
	})
	if err != nil {
		return s.mutateError("forgot password", err)
	}

	s.notify(s.messages.PasswordReset(acc, token.Plain, token.ExpiresAt))
	s.auditLogger.LogAccountAction(ctx, "password_reset_requested", acc.ID, nil)
	return nil
}

func (s *AuthService) resetTokenTTL(ctx context.Context) time.Duration {
	if s.settings == nil {
		return s.config.ResetTokenTTL
	}
	ttl, ok, err := s.settings.GetDuration(ctx, repositories.SettingResetTokenTTL)
	if err != nil {
		s.logger.Warn("failed to read reset token lifetime setting", slog.Any("error", err))
		return s.config.ResetTokenTTL
	}
	if !ok || ttl <= 0 {
		return s.config.ResetTokenTTL
	}
	return ttl
}

// ResetPassword sets a new password using a reset or first-login token.
// A rejected candidate leaves the token usable.
func (s *AuthService) ResetPassword(ctx context.Context, token, newSecret, confirmSecret string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.NewTokenError()
	}
	if err := validateNewPassword(newSecret, confirmSecret); err != nil {
		return err
	}

	now := s.now()
	found, err := s.accounts.GetByResetToken(ctx, models.HashSecretToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.NewTokenError()
		}
		return fmt.Errorf("failed to look up reset token: %w", err)
	}
	if !found.ResetTokenMatches(token, now) || found.Status == models.StatusRejected {
		return models.NewTokenError()
	}
	if err := s.history.Check(ctx, found, newSecret); err != nil {
		s.auditLogger.LogPasswordChange(ctx, found.ID, "reset", false, failureReason(err))
		return err
	}

	passwordHash, err := s.hasher.Hash(newSecret)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	tokenKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return err
	}

	updated, err := s.accounts.MutateWith(ctx, found.ID, func(q database.Querier, a *models.Account) error {
		if !a.ResetTokenMatches(token, now) {
			return models.NewTokenError()
		}
		a.PasswordHash = passwordHash
		a.FirstLogin = false
		a.TokenKey = tokenKey
		a.ClearResetToken()
		return s.history.Record(ctx, q, a.ID, passwordHash)
	})
	if err != nil {
		return s.mutateError("reset password", err)
	}

	s.afterPasswordCommit(ctx, updated, "reset")
	return nil
}

func (s *AuthService) afterPasswordCommit(ctx context.Context, acc *models.Account, method string) {
	s.auditLogger.LogPasswordChange(ctx, acc.ID, method, true, "")
	s.notify(s.messages.PasswordChanged(acc, s.now()))
}

// EnableTwoFactor starts enrollment: a pending secret and a fresh backup code batch
func (s *AuthService) EnableTwoFactor(ctx context.Context, accountID string) (*TwoFactorEnrollment, error) {
	var provisioning *models.TwoFactorProvisioning
	var codes []string
	acc, err := s.accounts.MutateWith(ctx, accountID, func(q database.Querier, a *models.Account) error {
		if a.Status != models.StatusActive {
			return models.NewAccountStateError(a.Status)
		}
		if a.TwoFactorEnabled {
			return models.NewValidationError("two-factor authentication is already enabled")
		}
		p, err := s.twoFactor.Enroll(a)
		if err != nil {
			return err
		}
		codes, err = s.twoFactor.IssueBackupCodes(ctx, q, a.ID)
		if err != nil {
			return err
		}
		provisioning = p
		return nil
	})
	if err != nil {
		return nil, s.mutateError("enable two-factor", err)
	}

	s.auditLogger.LogAccountAction(ctx, "two_factor_enrollment_started", acc.ID, nil)
	return &TwoFactorEnrollment{Provisioning: provisioning, BackupCodes: codes}, nil
}

// ConfirmTwoFactor turns the pending secret on once the first TOTP code checks out
func (s *AuthService) ConfirmTwoFactor(ctx context.Context, accountID, code string) error {
	if err := s.checkTwoFactorLimit(ctx, accountID); err != nil {
		return err
	}

	now := s.now()
	_, err := s.accounts.Mutate(ctx, accountID, func(a *models.Account) error {
		if a.Status != models.StatusActive {
			return models.NewAccountStateError(a.Status)
		}
		if a.TwoFactorEnabled {
			return models.NewValidationError("two-factor authentication is already enabled")
		}
		if !a.HasPendingTwoFactorSecret() {
			return models.NewTwoFactorError("two-factor enrollment has not been started")
		}
		if err := s.twoFactor.VerifyTOTP(a, code, now); err != nil {
			return err
		}
		a.TwoFactorEnabled = true
		return nil
	})
	if err != nil {
		return s.mutateError("confirm two-factor", err)
	}

	s.resetTwoFactorLimit(ctx, accountID)
	s.auditLogger.LogAccountAction(ctx, "two_factor_enabled", accountID, nil)
	return nil
}

// DisableTwoFactor removes the second factor after re-checking the password
func (s *AuthService) DisableTwoFactor(ctx context.Context, accountID, secret string) error {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if acc.Status != models.StatusActive {
		return models.NewAccountStateError(acc.Status)
	}
	if !s.hasher.Verify(acc.PasswordHash, secret) {
		return &models.AuthError{Kind: models.KindInvalidCredentials, Message: "password is incorrect"}
	}

	_, err = s.accounts.MutateWith(ctx, accountID, func(q database.Querier, a *models.Account) error {
		if a.Status != models.StatusActive {
			return models.NewAccountStateError(a.Status)
		}
		if !a.TwoFactorEnabled && !a.HasPendingTwoFactorSecret() {
			return models.NewValidationError("two-factor authentication is not enabled")
		}
		a.ClearTwoFactor()
		return s.twoFactor.RevokeBackupCodes(ctx, q, a.ID)
	})
	if err != nil {
		return s.mutateError("disable two-factor", err)
	}

	s.auditLogger.LogAccountAction(ctx, "two_factor_disabled", accountID, nil)
	return nil
}

// RegenerateBackupCodes invalidates the unused codes and returns a fresh batch
func (s *AuthService) RegenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	var codes []string
	_, err := s.accounts.MutateWith(ctx, accountID, func(q database.Querier, a *models.Account) error {
		if a.Status != models.StatusActive {
			return models.NewAccountStateError(a.Status)
		}
		if !a.TwoFactorEnabled {
			return models.NewValidationError("two-factor authentication is not enabled")
		}
		var err error
		codes, err = s.twoFactor.IssueBackupCodes(ctx, q, a.ID)
		return err
	})
	if err != nil {
		return nil, s.mutateError("regenerate backup codes", err)
	}
	s.auditLogger.LogAccountAction(ctx, "backup_codes_regenerated", accountID, nil)
	return codes, nil
}

// LogoutAll rotates the account's token key, invalidating every outstanding credential
func (s *AuthService) LogoutAll(ctx context.Context, accountID string) error {
	tokenKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return err
	}
	_, err = s.accounts.Mutate(ctx, accountID, func(a *models.Account) error {
		if a.Status != models.StatusActive {
			return models.NewAccountStateError(a.Status)
		}
		a.TokenKey = tokenKey
		return nil
	})
	if err != nil {
		return s.mutateError("logout all", err)
	}
	s.auditLogger.LogAccountAction(ctx, "logout_all", accountID, nil)
	return nil
}

// GetAccount returns the account behind an authenticated session
func (s *AuthService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return s.accounts.GetByID(ctx, accountID)
}

func (s *AuthService) issueSession(acc *models.Account) (*Session, error) {
	token, expiresAt, err := s.tokens.IssueSession(acc)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	return &Session{Token: token, ExpiresAt: expiresAt, Account: acc}, nil
}

// checkTwoFactorLimit spends one verification slot before any code is evaluated
func (s *AuthService) checkTwoFactorLimit(ctx context.Context, accountID string) error {
	if s.limiter == nil {
		return nil
	}
	err := s.limiter.Attempt(ctx, accountID)
	if err == nil {
		return nil
	}
	if errors.Is(err, limiters.ErrTwoFactorRateLimited) {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     "two_factor_failed",
			AccountID:     accountID,
			FailureReason: "rate_limited",
		})
		return &models.AuthError{Kind: models.KindTwoFactor, Message: "too many verification attempts, try again later", Err: err}
	}
	// fail open when Redis is unreachable; the TOTP replay guard still applies
	s.logger.Warn("two-factor limiter unavailable", slog.Any("error", err))
	return nil
}

func (s *AuthService) unknownHandleFailure(ctx context.Context, handle string) *models.AuthError {
	f, err := s.unknown.RecordFailure(ctx, handle, s.now())
	if err != nil {
		s.logger.Warn("unknown handle counter unavailable", slog.Any("error", err))
		f = limiters.HandleFailures{Count: 1}
	}
	return s.governor.UnknownAccountError(f)
}

func (s *AuthService) resetTwoFactorLimit(ctx context.Context, accountID string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, accountID); err != nil {
		s.logger.Warn("failed to reset two-factor limiter", slog.Any("error", err))
	}
}

func (s *AuthService) notify(msg models.EmailMessage) {
	if s.notifier == nil {
		s.logger.Warn("no notifier configured, email dropped", slog.String("subject", msg.Subject))
		return
	}
	if !s.notifier.Notify(msg) {
		s.logger.Error("email queue full, message dropped",
			slog.String("email", pkglogger.SanitizedEmail(msg.To)),
			slog.String("subject", msg.Subject))
	}
}

// mutateError passes AuthErrors and ErrNotFound through and wraps everything else
func (s *AuthService) mutateError(op string, err error) error {
	var authErr *models.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func validateNewPassword(newSecret, confirmSecret string) error {
	if newSecret != confirmSecret {
		return models.NewValidationError("password confirmation does not match")
	}
	if err := pkgauth.ValidatePassword(newSecret); err != nil {
		return models.NewValidationError(err.Error())
	}
	return nil
}

func failureReason(err error) string {
	var authErr *models.AuthError
	if errors.As(err, &authErr) {
		return string(authErr.Kind)
	}
	return "internal_error"
}
