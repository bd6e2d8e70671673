package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/BradenHooton/clinicauth/internal/models"
	pkgauth "github.com/BradenHooton/clinicauth/pkg/auth"
	pkglogger "github.com/BradenHooton/clinicauth/pkg/logger"
)

const defaultPendingListLimit = 100

// StaffAccountInput is an administrator-created account
type StaffAccountInput struct {
	Handle string
	Name   string
	Email  string
	Role   string
}

// AdminService performs administrative lifecycle operations
type AdminService struct {
	accounts    AccountRepository
	hasher      CredentialHasher
	notifier    Notifier
	messages    *MessageBuilder
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAdminService creates a new AdminService
func NewAdminService(accounts AccountRepository, hasher CredentialHasher, notifier Notifier, messages *MessageBuilder, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AdminService {
	if logger == nil {
		logger = slog.Default()
	}
	if auditLogger == nil {
		auditLogger = pkglogger.NewAuditLogger(logger)
	}
	if messages == nil {
		messages = NewMessageBuilder("")
	}
	return &AdminService{
		accounts:    accounts,
		hasher:      hasher,
		notifier:    notifier,
		messages:    messages,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Approve activates an account whose email has been verified
func (s *AdminService) Approve(ctx context.Context, actorID, accountID string) (*models.Account, error) {
	acc, err := s.transition(ctx, actorID, accountID, func(a *models.Account) error {
		return a.TransitionTo(models.StatusActive)
	})
	if err != nil {
		return nil, err
	}
	s.send(s.messages.AccountApproved(acc))
	s.auditLogger.LogAccountAction(ctx, "account_approved", acc.ID, actorMetadata(actorID))
	return acc, nil
}

// Reject closes a pending registration for good
func (s *AdminService) Reject(ctx context.Context, actorID, accountID string) (*models.Account, error) {
	acc, err := s.transition(ctx, actorID, accountID, func(a *models.Account) error {
		if err := a.TransitionTo(models.StatusRejected); err != nil {
			return err
		}
		a.ClearVerificationToken()
		a.ClearResetToken()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.send(s.messages.AccountRejected(acc))
	s.auditLogger.LogAccountAction(ctx, "account_rejected", acc.ID, actorMetadata(actorID))
	return acc, nil
}

// Unlock lifts a lockout before it expires
func (s *AdminService) Unlock(ctx context.Context, actorID, accountID string) (*models.Account, error) {
	acc, err := s.transition(ctx, actorID, accountID, func(a *models.Account) error {
		if a.Status != models.StatusLocked {
			return models.NewAccountStateError(a.Status)
		}
		return a.Unlock()
	})
	if err != nil {
		return nil, err
	}
	s.auditLogger.LogAccountAction(ctx, "account_unlocked", acc.ID, actorMetadata(actorID))
	return acc, nil
}

func (s *AdminService) transition(ctx context.Context, actorID, accountID string, fn func(*models.Account) error) (*models.Account, error) {
	acc, err := s.accounts.Mutate(ctx, accountID, func(a *models.Account) error {
		if err := fn(a); err != nil {
			return err
		}
		if actorID != "" {
			actor := actorID
			a.UpdatedBy = &actor
		}
		return nil
	})
	if err != nil {
		var authErr *models.AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return acc, nil
}

// CreateStaffAccount creates an ACTIVE account with a temporary password that
// must be changed at first login. The password is only sent by email.
func (s *AdminService) CreateStaffAccount(ctx context.Context, actorID string, input StaffAccountInput) (*models.Account, error) {
	handle := models.NormalizeHandle(input.Handle)
	email := models.NormalizeEmail(input.Email)
	name := strings.TrimSpace(input.Name)
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if role == "" {
		role = models.RoleStaff
	}

	if err := pkgauth.ValidateHandle(handle); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if name == "" {
		return nil, models.NewValidationError("name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, models.NewValidationError("invalid email address")
	}
	if !models.IsValidRole(role) {
		return nil, models.NewValidationError("invalid role")
	}

	tempPassword, err := pkgauth.GenerateTemporaryPassword()
	if err != nil {
		return nil, err
	}
	passwordHash, err := s.hasher.Hash(tempPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	tokenKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return nil, err
	}

	acc := &models.Account{
		Handle:       handle,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         role,
		Status:       models.StatusActive,
		FirstLogin:   true,
		TokenKey:     tokenKey,
	}
	if actorID != "" {
		actor := actorID
		acc.CreatedBy = &actor
	}

	if err := s.accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.NewDuplicateError()
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.send(s.messages.TemporaryPassword(acc, tempPassword))
	s.auditLogger.LogAccountAction(ctx, "staff_account_created", acc.ID, map[string]string{
		"actor_id": actorID,
		"role":     role,
	})
	return acc, nil
}

// ListPending returns accounts awaiting approval, oldest first
func (s *AdminService) ListPending(ctx context.Context, limit int) ([]*models.Account, error) {
	if limit <= 0 || limit > defaultPendingListLimit {
		limit = defaultPendingListLimit
	}
	accounts, err := s.accounts.ListByStatus(ctx, models.StatusPendingApproval, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending accounts: %w", err)
	}
	return accounts, nil
}

func (s *AdminService) send(msg models.EmailMessage) {
	if s.notifier == nil {
		return
	}
	if !s.notifier.Notify(msg) {
		s.logger.Error("email queue full, message dropped",
			slog.String("email", pkglogger.SanitizedEmail(msg.To)),
			slog.String("subject", msg.Subject))
	}
}

func actorMetadata(actorID string) map[string]string {
	if actorID == "" {
		return map[string]string{"actor": "cli"}
	}
	return map[string]string{"actor_id": actorID}
}
