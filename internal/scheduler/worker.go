package scheduler

import (
	"context"
	"fmt"

	"github.com/mguest/inspectd/internal/lifecycle"
	"github.com/mguest/inspectd/platform/apperr"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker consumes scheduled jobs. Deadline checks run through the lifecycle
// engine, so the expiry path reuses the same completion check and CRM calls
// as the webhook path.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	engine *lifecycle.Engine
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, engine *lifecycle.Engine, log *logger.Logger) (*Worker, error) {
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

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		engine: engine,
		log:    log,
	}

	mux.HandleFunc(TaskDeadlineCheck, w.handleDeadlineCheck)

	return w, nil
}

// handleDeadlineCheck runs the deadline expiry for a task. A task that is
// gone from both the store and the CRM will never cancel, so not-found
// errors skip the retry loop.
func (w *Worker) handleDeadlineCheck(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseDeadlineCheckPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	err = w.engine.DeadlineExpiry(ctx, payload.TaskID)
	if apperr.Is(err, apperr.KindNotFound) {
		w.log.Warn("deadline_check_target_missing", "task_id", payload.TaskID, "error", err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler_worker_stopped", "error", err.Error())
	}
}
