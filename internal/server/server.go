package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/backedbyquantum/accounts/internal/apperr"
	"github.com/backedbyquantum/accounts/internal/config"
	"github.com/backedbyquantum/accounts/internal/notification"
	"github.com/backedbyquantum/accounts/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	dispatcher *notification.Dispatcher
	logger     *slog.Logger
}

// Backends are the connections opened by main. Any of them may be nil when
// the configuration does not need it.
type Backends struct {
	DB     *pgxpool.Pool
	SQL    *bun.DB
	Cache  *redis.Client
	Mailer notification.Mailer
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, b Backends, logger *slog.Logger) (*Server, error) {
	app := NewApp(cfg, logger)

	mailer := b.Mailer
	if mailer == nil {
		var err error
		if mailer, err = newMailer(cfg, logger); err != nil {
			return nil, err
		}
	}
	dispatcher := notification.NewDispatcher(mailer, logger)

	if err := routes.Setup(app, routes.Deps{
		Cfg:      cfg,
		DB:       b.DB,
		SQL:      b.SQL,
		Cache:    b.Cache,
		Notifier: dispatcher,
		Logger:   logger,
	}); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, dispatcher: dispatcher, logger: logger}, nil
}

// NewApp builds the Fiber application with the JSON error envelope.
func NewApp(cfg config.Config, logger *slog.Logger) *fiber.App {
	// Immutable: request values outlive the handler in background email sends.
	return fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    cfg.MaxUploadBytes,
		Immutable:    true,
		ErrorHandler: ErrorHandler(logger),
	})
}

type errorEnvelope struct {
	Msg        string            `json:"msg"`
	StatusCode bool              `json:"status_code"`
	Field      string            `json:"field,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// ErrorHandler renders every handler error as {msg, status_code: false}.
// Internal errors are logged with their cause and reported generically.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(errorEnvelope{Msg: fe.Message})
		}

		status := apperr.HTTPStatus(err)
		body := errorEnvelope{Msg: err.Error()}
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			body.Field = appErr.Field
			body.Errors = appErr.Details
		}
		if status == http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Any("error", err))
			body = errorEnvelope{Msg: http.StatusText(http.StatusInternalServerError)}
		}
		return c.Status(status).JSON(body)
	}
}

func newMailer(cfg config.Config, logger *slog.Logger) (notification.Mailer, error) {
	if cfg.SMTP.Host == "" {
		logger.Warn("SMTP_HOST not set, emails are logged instead of sent")
		return notification.NewLoggerMailer(logger), nil
	}
	return notification.NewSMTPMailer(notification.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.MailFrom,
	})
}

// App exposes the Fiber application for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then waits for queued emails until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		s.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown before all emails were sent")
		return ctx.Err()
	}
}
