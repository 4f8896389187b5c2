package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/demand-pricing/cmd/pricing/cli"
	"github.com/odyssey-erp/demand-pricing/internal/app"
	"github.com/odyssey-erp/demand-pricing/internal/observability"
	"github.com/odyssey-erp/demand-pricing/internal/platform/cache"
	"github.com/odyssey-erp/demand-pricing/internal/platform/db"
	"github.com/odyssey-erp/demand-pricing/internal/pricing"
	pricinghttp "github.com/odyssey-erp/demand-pricing/internal/pricing/http"
	"github.com/odyssey-erp/demand-pricing/internal/pricing/refdata"
	"github.com/odyssey-erp/demand-pricing/internal/pricing/store"
	"github.com/odyssey-erp/demand-pricing/jobs"
)

const usage = `usage: pricing [command]

commands:
  serve                          run the HTTP API (default)
  rates validate [-date D] [-ignore CODES] [-json]
                                 check official rates against the currency catalog
  jobs trigger <task>            enqueue a job (pricing:rates.refresh)
  jobs stats                     print queue counters
`

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

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "rates":
		os.Exit(runRates(ctx, cfg, logger, args))
	case "jobs":
		err = runJobs(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	repo := store.NewRepository(pool)
	refCache := refdata.NewCache(redisClient, cfg.PricingCacheTTL)
	if err := refCache.ListenForInvalidation(ctx, refdata.BumpChannel); err != nil {
		logger.Warn("refdata invalidation listener", slog.Any("error", err))
	}
	refService := refdata.NewService(repo, refCache)

	metrics := observability.NewMetrics()
	session := pricing.NewSession(repo, repo, pricing.SessionConfig{
		Concurrency: cfg.PricingLookupConcurrency,
		Logger:      logger,
		Recorder:    metrics,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
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

	pricingHandler := pricinghttp.NewHandler(logger, session, refService, jobClient, metrics).
		WithProductRateLimit(cfg.PricingProductRateLimit)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		PricingHandler: pricingHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
		Readiness: []app.ReadinessCheck{
			{Name: "postgres", Ping: pool.Ping},
			{Name: "redis", Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func runRates(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 || args[0] != "validate" {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet("rates validate", flag.ContinueOnError)
	date := fs.String("date", "", "day to check (YYYY-MM-DD, default today UTC)")
	ignore := fs.String("ignore", "", "comma separated currency codes to skip")
	jsonOut := fs.Bool("json", false, "print a JSON summary")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("rates validate", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	// Reads go straight to the database so the check never sees stale cache entries.
	ratesCLI, err := cli.NewRatesCLI(refdata.NewService(store.NewRepository(pool), nil))
	if err != nil {
		logger.Error("rates validate", slog.Any("error", err))
		return 1
	}
	var skip []string
	if *ignore != "" {
		skip = strings.Split(*ignore, ",")
	}
	return ratesCLI.ValidateCommand(ctx, cli.RatesValidateOptions{
		Date:       *date,
		Ignore:     skip,
		JSONOutput: *jsonOut,
	})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()

	switch {
	case len(args) == 2 && args[0] == "trigger":
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case len(args) == 1 && args[0] == "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-10s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return errors.New("jobs: unknown subcommand")
	}
}
