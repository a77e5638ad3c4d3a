package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	KindVerifyEmail           = "verify_email"
	KindPasswordReset         = "password_reset"
	KindVerificationSubmitted = "verification_submitted"
	KindTransactionSubmitted  = "transaction_submitted"
)

const defaultSendTimeout = 30 * time.Second

// Message describes an outbound email.
type Message struct {
	Kind    string
	To      string
	Subject string
	HTML    string
}

// Mailer delivers messages to downstream systems.
type Mailer interface {
	Send(ctx context.Context, message Message) error
}

// LoggerMailer writes messages to the structured logger instead of sending
// them. Used in development and when no SMTP host is configured.
type LoggerMailer struct {
	logger *slog.Logger
}

// NewLoggerMailer constructs a logging mailer.
func NewLoggerMailer(logger *slog.Logger) *LoggerMailer {
	return &LoggerMailer{logger: logger}
}

// Send writes the message to the structured logger. Bodies carry live
// tokens and are only logged at debug level.
func (m *LoggerMailer) Send(_ context.Context, message Message) error {
	if m == nil || m.logger == nil {
		return nil
	}
	m.logger.Info("email", "kind", message.Kind, "to", message.To, "subject", message.Subject)
	m.logger.Debug("email body", "kind", message.Kind, "to", message.To, "body", message.HTML)
	return nil
}

// Dispatcher sends messages in the background. A failed send is logged and
// never retried.
type Dispatcher struct {
	mailer  Mailer
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher wraps mailer.
func NewDispatcher(mailer Mailer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{mailer: mailer, logger: logger, timeout: defaultSendTimeout}
}

// Dispatch queues message for delivery and returns immediately. The send
// outlives ctx's cancellation but keeps its values.
func (d *Dispatcher) Dispatch(ctx context.Context, message Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.mailer.Send(sendCtx, message); err != nil {
			d.logger.Error("email dispatch failed",
				slog.String("kind", message.Kind),
				slog.String("to", message.To),
				slog.Any("error", err))
			return
		}
		d.logger.Debug("email dispatched", slog.String("kind", message.Kind), slog.String("to", message.To))
	}()
}

// Wait blocks until every dispatched message has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
