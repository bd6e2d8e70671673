package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BradenHooton/clinicauth/internal/auth"
	"github.com/BradenHooton/clinicauth/internal/background"
	"github.com/BradenHooton/clinicauth/internal/config"
	"github.com/BradenHooton/clinicauth/internal/database"
	"github.com/BradenHooton/clinicauth/internal/limiters"
	"github.com/BradenHooton/clinicauth/internal/repositories"
	"github.com/BradenHooton/clinicauth/internal/services"
	pkgauth "github.com/BradenHooton/clinicauth/pkg/auth"
	pkglogger "github.com/BradenHooton/clinicauth/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// App holds the wired services shared by the API server and accountctl
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *database.DB
	Accounts *repositories.AccountRepository
	Tokens   *auth.TokenManager
	Auth     *services.AuthService
	Admin    *services.AdminService
	Mailer   *background.Mailer

	redis *redis.Client
}

// NewLogger returns the JSON logger at the configured level
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Option customizes New
type Option func(*options)

type options struct {
	sender background.Sender
}

// WithEmailSender replaces the sender selected by EMAIL_PROVIDER
func WithEmailSender(sender background.Sender) Option {
	return func(o *options) {
		o.sender = sender
	}
}

// New connects to storage and wires every service. The caller runs the mailer
// with go app.Mailer.Start(ctx) and must call Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, DB: db}
	if err := a.wire(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, o options) error {
	cfg := a.Config
	logger := a.Logger

	a.Accounts = repositories.NewAccountRepository(a.DB)
	historyRepo := repositories.NewPasswordHistoryRepository(a.DB)
	backupCodeRepo := repositories.NewBackupCodeRepository(a.DB)
	settingsRepo := repositories.NewSettingsRepository(a.DB)

	a.Tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionExpiry, cfg.Auth.ChallengeExpiry)
	a.Tokens.SetAccountRepo(a.Accounts)

	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		return fmt.Errorf("failed to initialize TOTP manager: %w", err)
	}

	sender := o.sender
	if sender == nil {
		sender, err = newEmailSender(ctx, cfg, logger)
		if err != nil {
			return err
		}
	}
	a.Mailer = background.NewMailer(sender, cfg.Email.QueueSize, logger)

	hasher := pkgauth.NewHasher(cfg.Auth.BcryptCost)
	auditLogger := pkglogger.NewAuditLogger(logger)
	messages := services.NewMessageBuilder(cfg.Email.AppURL)

	deps := services.AuthDeps{
		Accounts:    a.Accounts,
		History:     historyRepo,
		BackupCodes: backupCodeRepo,
		Settings:    settingsRepo,
		Hasher:      hasher,
		Tokens:      a.Tokens,
		TOTP:        totpManager,
		Notifier:    a.Mailer,
		Messages:    messages,
		Timing: auth.NewTimingDelay(auth.TimingConfig{
			BaseDelay:   cfg.Auth.FailureDelay,
			RandomDelay: cfg.Auth.FailureJitter,
		}),
		Logger:      logger,
		AuditLogger: auditLogger,
		Config: services.AuthConfig{
			Lockout: services.LockoutPolicy{
				Threshold: cfg.Auth.LockoutThreshold,
				Duration:  cfg.Auth.LockoutDuration,
			},
			VerificationTokenTTL: cfg.Auth.VerificationTokenTTL,
			ResetTokenTTL:        cfg.Auth.ResetTokenTTL,
			FirstLoginTokenTTL:   cfg.Auth.FirstLoginTokenTTL,
			EmailCodeTTL:         cfg.Auth.EmailCodeTTL,
			PasswordHistoryDepth: cfg.Auth.PasswordHistoryDepth,
		},
	}

	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			// the limiter fails open, so an unreachable Redis is not fatal
			logger.Warn("redis unreachable at startup", slog.Any("error", err))
		}
		deps.Limiter = limiters.NewTwoFactorLimiter(a.redis, limiters.TwoFactorLimiterConfig{
			MaxAttempts: cfg.Auth.TwoFactorMaxAttempts,
			Window:      cfg.Auth.TwoFactorWindow,
		})
		deps.UnknownHandles = limiters.NewUnknownHandleCounter(a.redis, limiters.UnknownHandleConfig{
			Threshold: cfg.Auth.LockoutThreshold,
			Lockout:   cfg.Auth.LockoutDuration,
		})
	} else {
		logger.Info("REDIS_ADDR not set, second-factor attempt limiter disabled and unknown-handle tallies kept in process")
	}

	a.Auth = services.NewAuthService(deps)
	a.Admin = services.NewAdminService(a.Accounts, hasher, a.Mailer, messages, logger, auditLogger)
	return nil
}

func newEmailSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (background.Sender, error) {
	if cfg.Email.Provider == "ses" {
		sender, err := services.NewAWSSESEmailSender(ctx, cfg.Email.Region, cfg.Email.FromAddress, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email sender: %w", err)
		}
		return sender, nil
	}
	logger.Info("EMAIL_PROVIDER=log, emails are written to the log")
	return services.NewLogEmailSender(logger, cfg.Server.Env), nil
}

// Close releases Redis and the database pool
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis client", slog.Any("error", err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
