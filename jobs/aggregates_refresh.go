package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskAggregatesRefresh rebuilds the warehouse aggregate tables from
	// the current fact table without touching dimensions or facts.
	TaskAggregatesRefresh = "warehouse:aggregates"
)

// AggregatesRefreshPayload carries scheduling metadata.
type AggregatesRefreshPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewAggregatesRefreshTask constructs an Asynq task for an aggregate rebuild.
func NewAggregatesRefreshTask() (*asynq.Task, error) {
	body, err := json.Marshal(AggregatesRefreshPayload{ScheduledFor: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAggregatesRefresh, body, asynq.Queue(QueueDefault)), nil
}

// AggregatesRefresher rebuilds the aggregate tables.
type AggregatesRefresher interface {
	RefreshAggregates(ctx context.Context) (int, error)
}

// NewAggregatesRefreshHandler builds the handler executing
// TaskAggregatesRefresh tasks.
func NewAggregatesRefreshHandler(refresher AggregatesRefresher, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AggregatesRefreshPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		rows, err := refresher.RefreshAggregates(ctx)
		if err != nil {
			logger.Error("aggregate refresh failed", slog.Any("error", err))
			return err
		}
		logger.Info("aggregates rebuilt", slog.Int("rows", rows))
		return nil
	}
}
