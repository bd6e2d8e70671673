package background

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/clinicauth/internal/models"
	pkglogger "github.com/BradenHooton/clinicauth/pkg/logger"
)

const (
	defaultQueueSize   = 100
	defaultSendTimeout = 10 * time.Second
)

// Sender delivers one email
type Sender interface {
	Send(ctx context.Context, msg models.EmailMessage) error
}

// Mailer delivers emails from a bounded queue on a single worker so the
// request that triggered a message never waits on the provider
type Mailer struct {
	sender      Sender
	logger      *slog.Logger
	queue       chan models.EmailMessage
	sendTimeout time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	stopped     atomic.Bool
}

// NewMailer creates a new mailer
func NewMailer(sender Sender, queueSize int, logger *slog.Logger) *Mailer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{
		sender:      sender,
		logger:      logger,
		queue:       make(chan models.EmailMessage, queueSize),
		sendTimeout: defaultSendTimeout,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Notify queues msg without blocking. Returns false when the queue is full or the mailer stopped.
func (m *Mailer) Notify(msg models.EmailMessage) bool {
	if m.stopped.Load() {
		return false
	}
	select {
	case m.queue <- msg:
		return true
	default:
		return false
	}
}

// Start runs the delivery loop until Stop is called or ctx is cancelled
func (m *Mailer) Start(ctx context.Context) {
	defer close(m.doneCh)

	for {
		select {
		case msg := <-m.queue:
			m.deliver(ctx, msg)
		case <-m.stopCh:
			m.drain(ctx)
			m.logger.Info("mailer stopped")
			return
		case <-ctx.Done():
			m.logger.Info("mailer context cancelled", slog.Int("undelivered", len(m.queue)))
			return
		}
	}
}

// drain delivers what is already queued
func (m *Mailer) drain(ctx context.Context) {
	for {
		select {
		case msg := <-m.queue:
			m.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (m *Mailer) deliver(ctx context.Context, msg models.EmailMessage) {
	sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	if err := m.sender.Send(sendCtx, msg); err != nil {
		m.logger.Error("failed to deliver email",
			slog.String("email", pkglogger.SanitizedEmail(msg.To)),
			slog.String("subject", msg.Subject),
			slog.Any("error", err))
	}
}

// Stop refuses new messages, delivers the queued ones and waits for the loop
// to exit or ctx to expire
func (m *Mailer) Stop(ctx context.Context) {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.stopCh)
	})

	select {
	case <-m.doneCh:
	case <-ctx.Done():
		m.logger.Warn("mailer stop timed out", slog.Int("undelivered", len(m.queue)))
	}
}
