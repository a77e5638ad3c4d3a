package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wneessen/go-mail"
)

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers messages over SMTP.
type SMTPMailer struct {
	mu     sync.Mutex
	client *mail.Client
	from   string
}

// NewSMTPMailer builds an SMTP mailer. Authentication is only enabled when a
// username is configured.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp sender address is required")
	}
	opts := []mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

// Send delivers message as an HTML email.
func (m *SMTPMailer) Send(ctx context.Context, message Message) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(message.To); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(message.Subject)
	msg.SetBodyString(mail.TypeTextHTML, message.HTML)

	// the client holds a single connection
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
