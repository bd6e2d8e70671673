package services

import (
	"fmt"
	"net/url"
	"time"

	"github.com/BradenHooton/clinicauth/internal/models"
)

const emailFooter = `
This is an automated message. Please do not reply to this email.
If you did not request this, contact the clinic administrator.
`

// MessageBuilder renders the account notifications
type MessageBuilder struct {
	appURL string
}

// NewMessageBuilder creates a MessageBuilder whose links point at appURL
func NewMessageBuilder(appURL string) *MessageBuilder {
	return &MessageBuilder{appURL: appURL}
}

func (b *MessageBuilder) link(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", b.appURL, path, url.QueryEscape(token))
}

func formatExpiry(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}

// Verification asks a new registrant to confirm their email address
func (b *MessageBuilder) Verification(acc *models.Account, token string, expiresAt time.Time) models.EmailMessage {
	link := b.link("/verify-email", token)
	return models.EmailMessage{
		To:      acc.Email,
		Subject: "Verify your email address",
		Body: fmt.Sprintf(`Hello %s,

To complete your registration (user %s), verify your email address by opening this link:

%s

The link expires at %s. After verification an administrator must approve the account.
%s`, acc.Name, acc.Handle, link, formatExpiry(expiresAt), emailFooter),
	}
}

// PasswordReset carries a reset link
func (b *MessageBuilder) PasswordReset(acc *models.Account, token string, expiresAt time.Time) models.EmailMessage {
	link := b.link("/reset-password", token)
	return models.EmailMessage{
		To:      acc.Email,
		Subject: "Password reset request",
		Body: fmt.Sprintf(`Hello %s,

A password reset was requested for user %s. Choose a new password here:

%s

The link expires at %s and can be used once.
%s`, acc.Name, acc.Handle, link, formatExpiry(expiresAt), emailFooter),
	}
}

// PasswordChanged confirms a completed change or reset
func (b *MessageBuilder) PasswordChanged(acc *models.Account, at time.Time) models.EmailMessage {
	return models.EmailMessage{
		To:      acc.Email,
		Subject: "Your password was changed",
		Body: fmt.Sprintf(`Hello %s,

The password for user %s was changed at %s. All existing sessions were signed out.
%s`, acc.Name, acc.Handle, formatExpiry(at), emailFooter),
	}
}

// AccountApproved tells the owner they can sign in
func (b *MessageBuilder) AccountApproved(acc *models.Account) models.EmailMessage {
	return models.EmailMessage{
		To:      acc.Email,
		Subject: "Your account was approved",
		Body: fmt.Sprintf(`Hello %s,

Your account %s has been approved. You can now sign in at %s.
%s`, acc.Name, acc.Handle, b.appURL, emailFooter),
	}
}

// AccountRejected tells the owner the registration was declined
func (b *MessageBuilder) AccountRejected(acc *models.Account) models.EmailMessage {
	return models.EmailMessage{
		To:      acc.Email,
		Subject: "Your registration was not approved",
		Body: fmt.Sprintf(`Hello %s,

The registration for user %s was not approved.
%s`, acc.Name, acc.Handle, emailFooter),
	}
}

// TemporaryPassword delivers the credential of an administrator-created account
func (b *MessageBuilder) TemporaryPassword(acc *models.Account, password string) models.EmailMessage {
	return models.EmailMessage{
		To:      acc.Email,
		Subject: "Your clinic account",
		Body: fmt.Sprintf(`Hello %s,

An administrator created an account for you.

User: %s
Temporary password: %s

Sign in at %s. You will be asked to choose a new password on first login.
%s`, acc.Name, acc.Handle, password, b.appURL, emailFooter),
	}
}

// EmailCode delivers a second-factor login code
func (b *MessageBuilder) EmailCode(acc *models.Account, code string, expiresAt time.Time) models.EmailMessage {
	return models.EmailMessage{
		To:      acc.Email,
		Subject: "Your sign-in code",
		Body: fmt.Sprintf(`Hello %s,

Your sign-in code is %s. It expires at %s.
%s`, acc.Name, code, formatExpiry(expiresAt), emailFooter),
	}
}
