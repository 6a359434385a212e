package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vereinskasse/vereinskasse/internal/app"
	"github.com/vereinskasse/vereinskasse/internal/audit"
	"github.com/vereinskasse/vereinskasse/internal/ledger"
	"github.com/vereinskasse/vereinskasse/internal/obligations"
	"github.com/vereinskasse/vereinskasse/internal/observability"
	"github.com/vereinskasse/vereinskasse/internal/payments"
	"github.com/vereinskasse/vereinskasse/internal/platform/cache"
	"github.com/vereinskasse/vereinskasse/internal/platform/db"
	"github.com/vereinskasse/vereinskasse/internal/review"
	"github.com/vereinskasse/vereinskasse/internal/shared"
	"github.com/vereinskasse/vereinskasse/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.DBAutoMigrate {
		if err := db.Migrate(ctx, dbpool); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("schema applied")
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessions := shared.NewSessionStore(redisClient, cfg.SessionCookie, cfg.SessionTTL)
	metrics := observability.NewMetrics()

	redisOpts, err := jobs.RedisOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("redis address", slog.Any("error", err))
		os.Exit(1)
	}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	obligationService := obligations.NewService(obligations.NewRepository(dbpool), metrics)
	ledgerService := ledger.NewService(ledger.NewRepository(dbpool))
	paymentService := payments.NewService(payments.NewRepository(dbpool), metrics)
	reviewService := review.NewService(review.NewRepository(dbpool), metrics)
	auditService := audit.NewService(audit.NewRepository(dbpool))

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Sessions:           sessions,
		Metrics:            metrics,
		ObligationsHandler: obligations.NewHandler(logger, obligationService, jobClient),
		LedgerHandler:      ledger.NewHandler(logger, ledgerService),
		PaymentsHandler:    payments.NewHandler(logger, paymentService),
		ReviewHandler:      review.NewHandler(logger, reviewService),
		AuditHandler:       audit.NewHandler(logger, auditService),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
