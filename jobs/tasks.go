package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/meridian-dw/meridian-dw/internal/pipeline"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
)

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueuePipelineRun enqueues a full pipeline run and returns the task id.
// TaskID makes the enqueue idempotent while a run is still queued: triggering
// twice before the worker picks it up yields one execution.
func (c *Client) EnqueuePipelineRun(ctx context.Context) (string, error) {
	task, err := NewPipelineRunTask()
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.TaskID(TaskPipelineRun),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return "", pipeline.ErrRunAlreadyQueued
	}
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// EnqueueAggregatesRefresh enqueues an aggregate-only rebuild.
func (c *Client) EnqueueAggregatesRefresh(ctx context.Context) (string, error) {
	task, err := NewAggregatesRefreshTask()
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
