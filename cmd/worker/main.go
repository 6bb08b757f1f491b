package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nimbusmart/stockcore/internal/alert"
	"github.com/nimbusmart/stockcore/internal/app"
	"github.com/nimbusmart/stockcore/internal/catalog"
	jobmetrics "github.com/nimbusmart/stockcore/internal/jobs"
	"github.com/nimbusmart/stockcore/internal/platform/cache"
	"github.com/nimbusmart/stockcore/internal/platform/db"
	"github.com/nimbusmart/stockcore/internal/reservation"
	"github.com/nimbusmart/stockcore/internal/shared"
	"github.com/nimbusmart/stockcore/internal/stock"
	"github.com/nimbusmart/stockcore/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	// The sweeper mutates stock, so the worker carries the same stock and
	// alert wiring as the API server.
	alertRepo := alert.NewRepository(pool)
	alertEngine := alert.NewEngine(alertRepo, jobsClient, nil, logger)

	locks := shared.NewProductLocks()
	idempotencyStore := shared.NewIdempotencyStore(pool)
	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, locks, alertEngine, idempotencyStore, nil, logger)

	reservationRepo := reservation.NewRepository(pool)
	coordinator := reservation.NewCoordinator(stockService, reservationRepo, nil, logger, cfg.ReservationHoldTTL)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, redisClient, cfg.CatalogCacheTTL, logger)

	jobMetrics := jobmetrics.NewMetrics(nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReservationSweep, Handler: jobs.NewReservationSweepHandler(coordinator, jobMetrics, logger)},
			{Type: jobs.TaskAlertNotify, Handler: jobs.NewAlertNotifyHandler(catalogService, jobMetrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReservationSweep, Task: jobs.NewReservationSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
