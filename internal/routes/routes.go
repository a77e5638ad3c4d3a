package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/backedbyquantum/accounts/internal/auth"
	"github.com/backedbyquantum/accounts/internal/config"
	"github.com/backedbyquantum/accounts/internal/credential"
	"github.com/backedbyquantum/accounts/internal/federation"
	"github.com/backedbyquantum/accounts/internal/identity"
	"github.com/backedbyquantum/accounts/internal/middleware"
	"github.com/backedbyquantum/accounts/internal/storage"
	"github.com/backedbyquantum/accounts/internal/submission"
)

// Notifier queues outbound email.
type Notifier interface {
	identity.Notifier
	submission.Notifier
}

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	SQL      *bun.DB
	Cache    *redis.Client
	Notifier Notifier
	Logger   *slog.Logger

	// Optional overrides, built from Cfg when nil.
	Documents storage.Store
	Provider  federation.Provider
	Clock     func() time.Time
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Notifier == nil {
		return errors.New("routes: notifier is required")
	}
	// Enforce Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDevelopment() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	accounts, submissions, err := repositories(context.Background(), d)
	if err != nil {
		return err
	}

	var tokenOpts []auth.Option
	if d.Clock != nil {
		tokenOpts = append(tokenOpts, auth.WithClock(d.Clock))
	}
	tokens, err := auth.NewTokens(auth.Config{
		Secret:     []byte(d.Cfg.JWTSecret),
		Issuer:     d.Cfg.JWTIssuer,
		DefaultTTL: d.Cfg.TokenDefaultTTL,
	}, tokenOpts...)
	if err != nil {
		return err
	}

	documents := d.Documents
	if documents == nil {
		local, err := storage.NewLocal(d.Cfg.UploadDir)
		if err != nil {
			return err
		}
		documents = local
	}

	identitySvc := identity.NewService(accounts, credential.NewBcryptHasher(d.Cfg.BcryptCost), tokens, d.Notifier, identity.Links{
		VerifyEmailURL:   d.Cfg.BaseURL() + "/api/auth/verify-email",
		PasswordResetURL: d.Cfg.FrontendURL + "/change-password",
	}, d.Logger)
	submissionSvc := submission.NewService(submissions, documents, d.Notifier, submission.Options{
		OpsMailbox:    d.Cfg.OpsMailbox,
		PublicBaseURL: d.Cfg.BaseURL(),
	}, d.Logger)

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Static(storage.PublicPrefix, d.Cfg.UploadDir, fiber.Static{ByteRange: true})

	api := app.Group("/api")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterIdentityRoutes(api, identity.NewHandler(identitySvc))

	provider := d.Provider
	if provider == nil && d.Cfg.Google.ClientID != "" {
		provider = federation.NewGoogle(federation.GoogleConfig{
			ClientID:     d.Cfg.Google.ClientID,
			ClientSecret: d.Cfg.Google.ClientSecret,
			CallbackURL:  d.Cfg.BaseURL() + "/api/auth/google/callback",
		})
	}
	if provider != nil {
		var states federation.StateStore = federation.NewMemoryStateStore(federation.DefaultStateTTL)
		if d.Cache != nil {
			states = federation.NewRedisStateStore(d.Cache, federation.DefaultStateTTL)
		}
		RegisterFederationRoutes(api, provider.Name(), identity.NewFederationHandler(identitySvc, provider, states, d.Logger))
	} else {
		d.Logger.Info("GOOGLE_CLIENT_ID not set, federated login disabled")
	}

	var idempotency fiber.Handler
	if d.Cache != nil {
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterSubmissionRoutes(api,
		submission.NewHandler(submissionSvc, d.Cfg.PublicBaseURL),
		middleware.RequireAccount(identitySvc),
		idempotency)

	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(http.StatusNotFound, "route not found")
	})
	return nil
}

// repositories picks the account and submission stores for STORE_DRIVER.
func repositories(ctx context.Context, d Deps) (identity.Repository, submission.Repository, error) {
	switch d.Cfg.StoreDriver {
	case config.StorePostgres:
		if d.DB == nil {
			return nil, nil, errors.New("postgres store selected without a database pool")
		}
		return identity.NewPostgresRepository(d.DB), submission.NewPostgresRepository(d.DB), nil
	case config.StoreSQLite:
		if d.SQL == nil {
			return nil, nil, errors.New("sqlite store selected without a database")
		}
		accounts := identity.NewSQLiteRepository(d.SQL)
		if err := accounts.CreateSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("create account schema: %w", err)
		}
		submissions := submission.NewSQLiteRepository(d.SQL)
		if err := submissions.CreateSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("create submission schema: %w", err)
		}
		return accounts, submissions, nil
	case config.StoreMemory:
		return identity.NewMemoryRepository(), submission.NewMemoryRepository(), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", d.Cfg.StoreDriver)
	}
}
