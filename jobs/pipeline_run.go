package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-dw/meridian-dw/internal/pipeline"
)

const (
	// TaskPipelineRun executes a full staging-to-warehouse pipeline run.
	TaskPipelineRun = "pipeline:run"
)

// PipelineRunPayload carries scheduling metadata.
type PipelineRunPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewPipelineRunTask constructs an Asynq task for a pipeline run.
func NewPipelineRunTask() (*asynq.Task, error) {
	body, err := json.Marshal(PipelineRunPayload{ScheduledFor: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPipelineRun, body, asynq.Queue(QueueDefault)), nil
}

// PipelineRunner executes one pipeline run.
type PipelineRunner interface {
	Run(ctx context.Context) (pipeline.RunReport, error)
}

// CacheBumper invalidates the report read cache after a run.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// NewPipelineRunHandler builds the handler executing TaskPipelineRun tasks.
// Threshold failures are terminal for the task: the report records them and
// a retry would not change the input data.
func NewPipelineRunHandler(runner PipelineRunner, bumper CacheBumper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PipelineRunPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		report, err := runner.Run(ctx)
		if bumper != nil {
			if bumpErr := bumper.Bump(ctx); bumpErr != nil {
				logger.Warn("report cache not invalidated", slog.Any("error", bumpErr))
			}
		}
		if err != nil {
			logger.Error("pipeline run fatal",
				slog.String("run_id", report.RunID.String()),
				slog.Any("error", err))
			return err
		}
		logger.Info("pipeline run task finished",
			slog.String("run_id", report.RunID.String()),
			slog.String("status", string(report.Status)))
		return nil
	}
}
