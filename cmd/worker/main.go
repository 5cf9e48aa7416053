package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sentra-platform/sentra/internal/app"
	"github.com/sentra-platform/sentra/internal/automation"
	jobmetrics "github.com/sentra-platform/sentra/internal/jobs"
	"github.com/sentra-platform/sentra/internal/platform/cache"
	"github.com/sentra-platform/sentra/internal/platform/db"
	"github.com/sentra-platform/sentra/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	metrics := jobmetrics.NewMetrics(nil)

	automationRepo := automation.NewRepository(pool)
	dispatcher := automation.NewDispatcher(automationRepo, automation.DispatcherConfig{
		HTTPTimeout:      cfg.WebhookTimeout,
		Retries:          cfg.WebhookRetries,
		RetryDelay:       cfg.WebhookRetryDelay,
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         cfg.BreakerCooldown,
	}, logger, nil)

	source := &jobs.PoolMetricSource{Pool: pool}
	reportCache := jobs.NewReportCache(redisClient, cfg.ReportCacheTTL)

	reportJob := jobs.NewDailyReportJob(source, reportCache, dispatcher, logger, metrics)
	scanJob := jobs.NewSecurityScanJob(source, dispatcher, logger, metrics, cfg.AlertDenyThreshold)

	reportTask, err := jobs.NewDailyReportTask(jobs.DailyReportPayload{})
	if err != nil {
		logger.Error("build report task", slog.Any("error", err))
		os.Exit(1)
	}
	scanTask, err := jobs.NewSecurityScanTask(jobs.SecurityScanPayload{})
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeDailyReport, Handler: reportJob.Handle},
			{Type: jobs.TaskTypeSecurityScan, Handler: scanJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 0 * * *", Task: reportTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/15 * * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
	dispatcher.Wait()
}
