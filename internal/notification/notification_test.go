package notification

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/backedbyquantum/accounts/internal/logging"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestDispatcherSendsInBackground(t *testing.T) {
	mailer := &recordingMailer{}
	d := NewDispatcher(mailer, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, Message{Kind: KindVerifyEmail, To: "a@example.com"})
	d.Dispatch(ctx, Message{Kind: KindPasswordReset, To: "b@example.com"})
	// request contexts end before delivery
	cancel()
	d.Wait()

	require.Len(t, mailer.sent, 2)
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	d := NewDispatcher(mailer, logging.Discard())
	d.Dispatch(context.Background(), Message{Kind: KindVerifyEmail, To: "a@example.com"})
	d.Wait()
	require.Empty(t, mailer.sent)
}

func TestLoggerMailerNilSafe(t *testing.T) {
	var m *LoggerMailer
	require.NoError(t, m.Send(context.Background(), Message{}))
	require.NoError(t, NewLoggerMailer(logging.Discard()).Send(context.Background(), Message{To: "x"}))
}

func TestLoggerMailerKeepsBodiesOutOfInfoLogs(t *testing.T) {
	msg := Message{Kind: KindPasswordReset, To: "a@example.com", Subject: "Reset", HTML: "token=secret-token"}

	var info bytes.Buffer
	m := NewLoggerMailer(slog.New(slog.NewJSONHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo})))
	require.NoError(t, m.Send(context.Background(), msg))
	require.Contains(t, info.String(), "a@example.com")
	require.NotContains(t, info.String(), "secret-token")

	var debug bytes.Buffer
	m = NewLoggerMailer(slog.New(slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug})))
	require.NoError(t, m.Send(context.Background(), msg))
	require.Contains(t, debug.String(), "secret-token")
}

func TestTemplates(t *testing.T) {
	msg, err := VerifyEmail("a@example.com", "https://api.example.com/api/auth/verify-email?token=abc.def")
	require.NoError(t, err)
	require.Equal(t, KindVerifyEmail, msg.Kind)
	require.Contains(t, msg.HTML, "token=abc.def")

	msg, err = PasswordReset("a@example.com", "https://app.example.com/change-password?token=x", 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "Reset Your Password", msg.Subject)
	require.Contains(t, msg.HTML, "15m0s")

	msg, err = VerificationSubmitted("ops@example.com", VerificationSummary{
		AccountID:   9,
		FirstName:   "<script>alert(1)</script>",
		DocumentURL: "https://api.example.com/icon/doc.png",
	})
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", msg.To)
	require.False(t, strings.Contains(msg.HTML, "<script>"), "applicant input must be escaped")
	require.Contains(t, msg.HTML, "https://api.example.com/icon/doc.png")

	msg, err = TransactionSubmitted("ops@example.com", TransactionSummary{AccountEmail: "a@example.com", XLMAmount: "12.5"})
	require.NoError(t, err)
	require.Contains(t, msg.HTML, "12.5")
	require.Contains(t, msg.HTML, "<title>New Transaction</title>")
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{From: "noreply@example.com"})
	require.Error(t, err)
	_, err = NewSMTPMailer(SMTPConfig{Host: "smtp.example.com"})
	require.Error(t, err)

	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "noreply@example.com"})
	require.NoError(t, err)
	require.NotNil(t, m)
}
