package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/fieldops/fieldops/internal/app"
	jobmetrics "github.com/fieldops/fieldops/internal/jobs"
	"github.com/fieldops/fieldops/internal/platform/cache"
	"github.com/fieldops/fieldops/internal/platform/db"
	"github.com/fieldops/fieldops/internal/rbac"
	"github.com/fieldops/fieldops/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	components, err := app.NewRBAC(cfg, rbac.NewRepository(pool), redisClient, nil, logger)
	if err != nil {
		logger.Error("init rbac", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)
	catalogSync := jobs.NewCatalogSyncJob(components.Service, logger, metrics)
	cacheFlush := jobs.NewCacheFlushJob(components.Service, logger, metrics)

	syncTask, err := jobs.NewCatalogSyncTask("scheduled")
	if err != nil {
		logger.Error("build catalog sync task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRBACCatalogSync, Handler: catalogSync.Handle},
			{Type: jobs.TaskRBACCacheFlush, Handler: cacheFlush.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.CatalogSyncCron, Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Unique(cfg.RBACCacheTTL)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("catalog_sync_cron", cfg.CatalogSyncCron))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
