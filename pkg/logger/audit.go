package logger

import (
	"context"
	"log/slog"
	"time"
)

type requestMetaKey struct{}

// RequestMeta is the caller information attached to audit records
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// WithRequestMeta stores caller information for later audit records
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the caller information stored in ctx, if any
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	AccountID     string
	Handle        string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger: logger,
	}
}

func (al *AuditLogger) emit(ctx context.Context, auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.Handle != "" {
		attrs = append(attrs, slog.String("handle", event.Handle))
	}

	meta := RequestMetaFrom(ctx)
	if meta.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", meta.IPAddress))
	}
	if meta.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", meta.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogAuthAttempt logs login and second-factor attempts
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	al.emit(ctx, "auth", event)
}

// LogPasswordChange logs password change and reset events
func (al *AuditLogger) LogPasswordChange(ctx context.Context, accountID, method string, success bool, reason string) {
	al.emit(ctx, "password", AuditEvent{
		EventType:     "password_" + method,
		AccountID:     accountID,
		Success:       success,
		FailureReason: reason,
	})
}

// LogAccountAction logs lifecycle changes such as approval, rejection and unlock
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, accountID string, metadata map[string]string) {
	al.emit(ctx, "account", AuditEvent{
		EventType: eventType,
		AccountID: accountID,
		Success:   true,
		Metadata:  metadata,
	})
}
