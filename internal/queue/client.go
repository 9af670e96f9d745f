package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) Queue() string {
	return c.queue
}

func (c *Client) EnqueueCapture(ctx context.Context, payload CapturePuzzlePayload) (*asynq.TaskInfo, error) {
	task, err := NewCapturePuzzleTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Retention(time.Hour),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
