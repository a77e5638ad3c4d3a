package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/backedbyquantum/accounts/internal/config"
	"github.com/backedbyquantum/accounts/internal/infra"
	"github.com/backedbyquantum/accounts/internal/logging"
	"github.com/backedbyquantum/accounts/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	var backends server.Backends

	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := infra.EnsurePostgresSchema(ctx, db); err != nil {
			logger.Error("apply postgres schema", "error", err)
			os.Exit(1)
		}
		backends.DB = db
	case config.StoreSQLite:
		db, err := infra.NewSQLiteDB(ctx, cfg.SQLiteDSN)
		if err != nil {
			logger.Error("open sqlite", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Warn("close sqlite", "error", err)
			}
		}()
		backends.SQL = db
	default:
		logger.Warn("using in-memory store, data is lost on restart")
	}

	// Redis is mandatory outside development; config.Load enforces that.
	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		backends.Cache = cache
	} else {
		logger.Warn("REDIS_URL not set, idempotency keys disabled and oauth state kept in memory")
	}

	srv, err := server.New(cfg, backends, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
