package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/demand-pricing/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical holds approval hand-offs ahead of maintenance work.
	QueueCritical = "critical"
	// TaskRatesRefresh pulls the official exchange rate feed.
	TaskRatesRefresh = "pricing:rates.refresh"
	// TaskApprovalRequested hands a demand with waiting lines to the approval workflow.
	TaskApprovalRequested = "pricing:approval.requested"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RatesRefreshPayload describes a rate refresh run.
type RatesRefreshPayload struct {
	Trigger string `json:"trigger"`
}

// NewRatesRefreshTask constructs the rate refresh task.
func NewRatesRefreshTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "cron"
	}
	data, err := json.Marshal(RatesRefreshPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRatesRefresh, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// ApprovalRequestedPayload identifies a submitted demand whose lines exceed
// the representative's discount limits.
type ApprovalRequestedPayload struct {
	DemandID         string    `json:"demand_id"`
	RepresentativeID int64     `json:"representative_id"`
	WaitingLines     []int     `json:"waiting_lines"`
	RequestedAt      time.Time `json:"requested_at"`
}

// NewApprovalRequestedTask constructs the approval hand-off task.
func NewApprovalRequestedTask(payload ApprovalRequestedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalRequested, data, asynq.Queue(QueueCritical), asynq.MaxRetry(10)), nil
}
