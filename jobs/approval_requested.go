package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/demand-pricing/internal/jobs"
	"github.com/odyssey-erp/demand-pricing/internal/shared"
)

// SubmitRecorder writes the SUBMIT entry that starts the approval workflow.
type SubmitRecorder interface {
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) (bool, error)
}

// KeyStore guards against processing the same hand-off twice.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ApprovalRequestedJob records approval requests for submitted demands.
type ApprovalRequestedJob struct {
	Recorder SubmitRecorder
	Keys     KeyStore
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewApprovalRequestedJob constructs the job handler. keys may be nil.
func NewApprovalRequestedJob(recorder SubmitRecorder, keys KeyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *ApprovalRequestedJob {
	return &ApprovalRequestedJob{Recorder: recorder, Keys: keys, Logger: logger, Metrics: metrics}
}

// Handle executes the approval hand-off.
func (j *ApprovalRequestedJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Recorder == nil {
		return errors.New("approval requested: dependencies not configured")
	}
	var payload ApprovalRequestedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if strings.TrimSpace(payload.DemandID) == "" || payload.RepresentativeID <= 0 || len(payload.WaitingLines) == 0 {
		j.log().Warn("discarding incomplete approval request", slog.String("demand_id", payload.DemandID))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskApprovalRequested)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	key := idempotencyKey(payload)
	if j.Keys != nil {
		if err := j.Keys.CheckAndInsert(ctx, key, shared.ModuleDemand); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				j.log().Info("approval request already handled", slog.String("demand_id", payload.DemandID))
				return nil
			}
			resultErr = err
			return resultErr
		}
	}

	ref := shared.DemandRefID(payload.DemandID)
	created, err := j.Recorder.EnsureSubmit(ctx, shared.ModuleDemand, ref, payload.RepresentativeID, approvalNote(payload.WaitingLines))
	if err != nil {
		if j.Keys != nil {
			if delErr := j.Keys.Delete(ctx, key); delErr != nil {
				j.log().Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		j.log().Error("record approval submit", slog.String("demand_id", payload.DemandID), slog.Any("error", err))
		resultErr = err
		return resultErr
	}

	j.log().Info("approval requested",
		slog.String("demand_id", payload.DemandID),
		slog.String("ref_id", ref.String()),
		slog.Int("waiting_lines", len(payload.WaitingLines)),
		slog.Bool("created", created))
	return resultErr
}

func idempotencyKey(p ApprovalRequestedPayload) string {
	return fmt.Sprintf("%s:%s:%d", TaskApprovalRequested, strings.TrimSpace(p.DemandID), p.RequestedAt.UnixNano())
}

func approvalNote(lines []int) string {
	parts := make([]string, len(lines))
	for i, idx := range lines {
		parts[i] = strconv.Itoa(idx + 1)
	}
	return "discount limit exceeded on lines " + strings.Join(parts, ", ")
}

func (j *ApprovalRequestedJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ApprovalRequestedJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskApprovalRequested))
	}
	return slog.Default().With(slog.String("job", TaskApprovalRequested))
}
