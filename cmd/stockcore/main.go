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

	"github.com/nimbusmart/stockcore/internal/alert"
	"github.com/nimbusmart/stockcore/internal/app"
	"github.com/nimbusmart/stockcore/internal/observability"
	"github.com/nimbusmart/stockcore/internal/platform/db"
	"github.com/nimbusmart/stockcore/internal/reservation"
	"github.com/nimbusmart/stockcore/internal/shared"
	"github.com/nimbusmart/stockcore/internal/stock"
	"github.com/nimbusmart/stockcore/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	alertRepo := alert.NewRepository(pool)
	alertEngine := alert.NewEngine(alertRepo, jobsClient, metrics, logger)
	alertHandler := alert.NewHandler(logger, alertEngine)

	locks := shared.NewProductLocks()
	idempotencyStore := shared.NewIdempotencyStore(pool)

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, locks, alertEngine, idempotencyStore, metrics, logger)
	queryService := stock.NewQueryService(stockRepo)
	stockHandler := stock.NewHandler(logger, stockService, queryService)

	reservationRepo := reservation.NewRepository(pool)
	coordinator := reservation.NewCoordinator(stockService, reservationRepo, metrics, logger, cfg.ReservationHoldTTL)
	reservationHandler := reservation.NewHandler(logger, coordinator)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		StockHandler:       stockHandler,
		ReservationHandler: reservationHandler,
		AlertHandler:       alertHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
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
