package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/mguest/inspectd/internal/lifecycle"
	"github.com/mguest/inspectd/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client enqueues one-shot deadline expiry checks. A nil Client is a no-op,
// so the API can run without a job backend configured.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

var _ lifecycle.DeadlineScheduler = (*Client)(nil)

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.inspector != nil {
		_ = c.inspector.Close()
	}
	return c.client.Close()
}

// ScheduleDeadlineCheck enqueues the expiry check for a task at its deadline.
// The job id is derived from the task id, and any job already scheduled for
// the task is dropped first, so a moved deadline replaces the previous check
// instead of stacking a second one.
func (c *Client) ScheduleDeadlineCheck(ctx context.Context, taskID int64, due time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewDeadlineCheckTask(DeadlineCheckPayload{TaskID: taskID})
	if err != nil {
		return err
	}

	jobID := deadlineJobID(taskID)
	if err := c.inspector.DeleteTask(c.queue, jobID); err != nil &&
		!errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(due.UTC()),
		asynq.Queue(c.queue),
		asynq.TaskID(jobID),
	)
	return err
}

func deadlineJobID(taskID int64) string {
	return fmt.Sprintf("deadline_%d", taskID)
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
