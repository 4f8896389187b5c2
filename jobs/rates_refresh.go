package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/demand-pricing/internal/jobs"
	"github.com/odyssey-erp/demand-pricing/internal/pricing"
	"github.com/odyssey-erp/demand-pricing/internal/shared"
)

const ratesRefreshLockTTL = 5 * time.Minute

// RateFeed fetches the published official rates.
type RateFeed interface {
	FetchOfficialRates(ctx context.Context) ([]pricing.ExchangeRate, error)
}

// RateStore persists official rates.
type RateStore interface {
	UpsertOfficialRates(ctx context.Context, rates []pricing.ExchangeRate) (int, error)
}

// CacheInvalidator drops cached reference data.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Locker serialises refresh runs across worker processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Auditor records completed refreshes.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RatesRefreshJob stores the official feed and invalidates cached rates.
// Lock and Audit are optional.
type RatesRefreshJob struct {
	Feed    RateFeed
	Store   RateStore
	Cache   CacheInvalidator
	Lock    Locker
	Audit   Auditor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRatesRefreshJob constructs the job handler. cache may be nil.
func NewRatesRefreshJob(feed RateFeed, store RateStore, cache CacheInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *RatesRefreshJob {
	return &RatesRefreshJob{Feed: feed, Store: store, Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle executes the refresh for an asynq task.
func (j *RatesRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload RatesRefreshPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.Trigger)
	return err
}

// Run fetches, stores and invalidates. It returns the number of rows written.
func (j *RatesRefreshJob) Run(ctx context.Context, trigger string) (int, error) {
	if j == nil || j.Feed == nil || j.Store == nil {
		return 0, errors.New("rates refresh: dependencies not configured")
	}
	tracker := j.metrics().Track(TaskRatesRefresh)
	start := time.Now()

	if j.Lock != nil {
		release, err := j.Lock.Acquire(ctx, shared.RatesRefreshLockKey, ratesRefreshLockTTL)
		if errors.Is(err, shared.ErrLockHeld) {
			j.log().Info("rates refresh already running", slog.String("trigger", trigger))
			return 0, tracker.End(nil)
		}
		if err != nil {
			j.log().Error("rates refresh failed", slog.String("step", "lock"), slog.Any("error", err))
			return 0, tracker.End(err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.log().Warn("release rates refresh lock", slog.Any("error", err))
			}
		}()
	}

	rates, err := j.Feed.FetchOfficialRates(ctx)
	if err != nil {
		j.log().Error("rates refresh failed", slog.String("step", "fetch"), slog.Any("error", err))
		return 0, tracker.End(err)
	}
	if len(rates) == 0 {
		j.log().Warn("rate feed returned no usable rates", slog.String("trigger", trigger))
		return 0, tracker.End(nil)
	}

	written, err := j.Store.UpsertOfficialRates(ctx, rates)
	if err != nil {
		j.log().Error("rates refresh failed", slog.String("step", "store"), slog.Any("error", err))
		return 0, tracker.End(err)
	}
	j.metrics().AddRatesWritten(written)

	if j.Cache != nil {
		if err := j.Cache.Invalidate(ctx); err != nil {
			j.log().Warn("invalidate reference cache", slog.Any("error", err))
		}
	}

	if j.Audit != nil {
		entry := shared.AuditLog{
			Action:   "rates.refresh",
			Entity:   "official_rates",
			EntityID: rates[0].Date.Format("2006-01-02"),
			Meta:     map[string]any{"trigger": trigger, "received": len(rates), "written": written},
		}
		if err := j.Audit.Record(ctx, entry); err != nil {
			j.log().Warn("audit rates refresh", slog.Any("error", err))
		}
	}

	j.log().Info("refreshed official rates",
		slog.String("trigger", trigger),
		slog.Int("received", len(rates)),
		slog.Int("written", written),
		slog.Duration("duration", time.Since(start)))
	return written, tracker.End(nil)
}

func (j *RatesRefreshJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RatesRefreshJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRatesRefresh))
	}
	return slog.Default().With(slog.String("job", TaskRatesRefresh))
}
