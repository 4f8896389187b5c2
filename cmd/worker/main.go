package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/demand-pricing/internal/app"
	jobmetrics "github.com/odyssey-erp/demand-pricing/internal/jobs"
	"github.com/odyssey-erp/demand-pricing/internal/platform/cache"
	"github.com/odyssey-erp/demand-pricing/internal/platform/db"
	"github.com/odyssey-erp/demand-pricing/internal/pricing/feed"
	"github.com/odyssey-erp/demand-pricing/internal/pricing/refdata"
	"github.com/odyssey-erp/demand-pricing/internal/pricing/store"
	"github.com/odyssey-erp/demand-pricing/internal/shared"
	"github.com/odyssey-erp/demand-pricing/jobs"
)

func main() {
	runOnce := flag.String("run-once", "", "execute a single task type inline and exit (pricing:rates.refresh)")
	flag.Parse()

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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
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
	repo := store.NewRepository(pool)
	refService := refdata.NewService(repo, refdata.NewCache(redisClient, cfg.PricingCacheTTL))

	ratesJob := jobs.NewRatesRefreshJob(feed.NewClient(cfg.PricingRatesFeedURL), repo, refService, logger, metrics)
	ratesJob.Lock = shared.NewRedisLocker(redisClient)
	ratesJob.Audit = shared.NewAuditLogger(pool)
	approvalJob := jobs.NewApprovalRequestedJob(
		shared.NewApprovalRecorder(pool, logger),
		shared.NewIdempotencyStore(pool),
		logger,
		metrics,
	)

	switch *runOnce {
	case "":
	case jobs.TaskRatesRefresh:
		written, err := ratesJob.Run(ctx, "manual")
		if err != nil {
			logger.Error("run once", slog.String("task", *runOnce), slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("run once complete", slog.String("task", *runOnce), slog.Int("written", written))
		return
	default:
		logger.Error("run once: unsupported task", slog.String("task", *runOnce))
		os.Exit(2)
	}

	ratesTask, err := jobs.NewRatesRefreshTask("cron")
	if err != nil {
		logger.Error("build rates task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRatesRefresh, Handler: ratesJob.Handle},
			{Type: jobs.TaskApprovalRequested, Handler: approvalJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PricingRatesCron, Task: ratesTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
