package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mguest/inspectd/internal/chat"
	"github.com/mguest/inspectd/internal/crm"
	"github.com/mguest/inspectd/internal/events"
	"github.com/mguest/inspectd/internal/invitations"
	"github.com/mguest/inspectd/internal/lifecycle"
	"github.com/mguest/inspectd/internal/scheduler"
	"github.com/mguest/inspectd/internal/store"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/db"
	"github.com/mguest/inspectd/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	tasks := store.NewTaskRepository(pool)
	invites := store.NewInvitationRepository(pool)
	guests := store.NewGuestRepository(pool)
	formSessions := store.NewSessionRepository(pool)

	crmClient := crm.NewClient(cfg, log)
	botClient := chat.NewClient(cfg, log)

	notifier := chat.NewAdminNotifier(botClient, cfg, log)
	notifier.RegisterHandlers(eventBus)

	deadlineClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize deadline scheduler client", "error", err)
		panic("failed to initialize deadline scheduler client: " + err.Error())
	}
	defer func() { _ = deadlineClient.Close() }()

	coordinator := invitations.NewCoordinator(tasks, invites, guests, crmClient, botClient, eventBus, cfg, cfg, cfg, log)
	lifecycleEngine := lifecycle.NewEngine(tasks, guests, formSessions, crmClient, botClient, coordinator, eventBus, deadlineClient, cfg, log)

	reconciler := scheduler.NewReconciler(coordinator, cfg, log)
	go reconciler.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, lifecycleEngine, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
