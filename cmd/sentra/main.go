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
	"golang.org/x/sync/errgroup"

	"github.com/sentra-platform/sentra/internal/abac"
	abachttp "github.com/sentra-platform/sentra/internal/abac/http"
	"github.com/sentra-platform/sentra/internal/app"
	"github.com/sentra-platform/sentra/internal/audit"
	"github.com/sentra-platform/sentra/internal/authz"
	"github.com/sentra-platform/sentra/internal/automation"
	"github.com/sentra-platform/sentra/internal/identity"
	"github.com/sentra-platform/sentra/internal/observability"
	"github.com/sentra-platform/sentra/internal/platform/cache"
	"github.com/sentra-platform/sentra/internal/platform/db"
	"github.com/sentra-platform/sentra/internal/rbac"
	"github.com/sentra-platform/sentra/internal/system"
	"github.com/sentra-platform/sentra/internal/users"
	"github.com/sentra-platform/sentra/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	eventRepo := observability.NewRepository(pool)
	metricService := observability.NewMetricService(eventRepo, metrics, logger)
	errorRepo := system.NewRepository(pool)
	errorLog := system.NewErrorLog(errorRepo, logger)

	automationRepo := automation.NewRepository(pool)
	dispatcher := automation.NewDispatcher(automationRepo, automation.DispatcherConfig{
		HTTPTimeout:      cfg.WebhookTimeout,
		Retries:          cfg.WebhookRetries,
		RetryDelay:       cfg.WebhookRetryDelay,
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         cfg.BreakerCooldown,
	}, logger, metrics.Registerer())

	identityRepo := identity.NewRepository(pool)
	resolver := identity.NewResolver(identityRepo, cache.NewMemory[*identity.Identity](), cfg.IdentityCacheTTL, logger)

	abacRepo := abac.NewRepository(pool)
	abacService := abac.NewService(abacRepo, cache.NewMemory[[]abac.Rule](), cfg.RuleCacheTTL, logger)
	evaluator := abac.NewEvaluator(logger,
		abac.WithMetrics(metricService),
		abac.WithEvents(dispatcher),
	)

	gate := authz.NewGate(abacService, evaluator, metricService, dispatcher, logger)
	guard := authz.Middleware{Gate: gate, Resolver: resolver, Logger: logger}

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, resolver, dispatcher, logger)
	usersHandler := users.NewHandler(logger, usersService, guard)

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo, logger)
	rbacHandler := rbac.NewHandler(logger, rbacService, guard)

	abacHandler := abachttp.NewHandler(logger, abacService, guard)

	automationService := automation.NewService(automationRepo, logger)
	automationHandler := automation.NewHandler(logger, automationService, guard)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, logger)
	auditHandler := audit.NewHandler(logger, auditService, guard)

	metricsHandler := observability.NewHandler(logger, metricService, guard)
	systemHandler := system.NewHandler(logger, errorRepo, guard)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
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
	// The report read path reuses the worker's cache; when Redis is down the
	// nil cache falls back to building reports straight from Postgres.
	var reportCache *jobs.ReportCache
	if redisClient, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("connect redis", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		reportCache = jobs.NewReportCache(redisClient, cfg.ReportCacheTTL)
	}
	reportJob := jobs.NewDailyReportJob(&jobs.PoolMetricSource{Pool: pool}, reportCache, nil, logger, nil)
	jobsHandler := jobs.NewHandler(inspector, jobsClient, reportJob, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Guard:             guard,
		UsersHandler:      usersHandler,
		RBACHandler:       rbacHandler,
		ABACHandler:       abacHandler,
		AutomationHandler: automationHandler,
		AuditHandler:      auditHandler,
		MetricsHandler:    metricsHandler,
		SystemHandler:     systemHandler,
		JobsHandler:       jobsHandler,
		Metrics:           metrics,
		ErrorLog:          errorLog,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
		// Let in-flight webhook deliveries and metric inserts drain before
		// the process exits.
		dispatcher.Wait()
		metricService.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
