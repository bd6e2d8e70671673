package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/clinicauth/internal/models"
	pkglogger "github.com/BradenHooton/clinicauth/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailSender delivers one message
type EmailSender interface {
	Send(ctx context.Context, msg models.EmailMessage) error
}

// SESAPI is the subset of the SES client used for delivery
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailSender sends emails using AWS SES
type AWSSESEmailSender struct {
	sesClient   SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailSender loads the default AWS configuration for region and creates a sender
func NewAWSSESEmailSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAWSSESEmailSenderWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewAWSSESEmailSenderWithClient creates a sender around an existing SES client
func NewAWSSESEmailSenderWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *AWSSESEmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSSESEmailSender{sesClient: client, fromAddress: fromAddress, logger: logger}
}

// Send delivers msg as a plain text email
func (s *AWSSESEmailSender) Send(ctx context.Context, msg models.EmailMessage) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Charset: aws.String("UTF-8"),
				Data:    aws.String(msg.Subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Charset: aws.String("UTF-8"),
					Data:    aws.String(msg.Body),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(msg.To)),
			slog.String("subject", msg.Subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(msg.To)),
		slog.String("subject", msg.Subject),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogEmailSender writes messages to the log instead of delivering them.
// The body carries live tokens, so it is redacted in production.
type LogEmailSender struct {
	logger *slog.Logger
	env    string
}

// NewLogEmailSender creates a LogEmailSender
func NewLogEmailSender(logger *slog.Logger, env string) *LogEmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmailSender{logger: logger, env: env}
}

// Send logs msg
func (s *LogEmailSender) Send(ctx context.Context, msg models.EmailMessage) error {
	s.logger.InfoContext(ctx, "email (log sender)",
		slog.String("email", pkglogger.SanitizedEmail(msg.To)),
		slog.String("subject", msg.Subject),
		pkglogger.RedactedAttr("body", msg.Body, s.env))
	return nil
}
