package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mguest/inspectd/internal/chat"
	"github.com/mguest/inspectd/internal/crm"
	"github.com/mguest/inspectd/internal/events"
	"github.com/mguest/inspectd/internal/forms"
	apphttp "github.com/mguest/inspectd/internal/http"
	"github.com/mguest/inspectd/internal/http/router"
	"github.com/mguest/inspectd/internal/invitations"
	"github.com/mguest/inspectd/internal/lifecycle"
	"github.com/mguest/inspectd/internal/registration"
	"github.com/mguest/inspectd/internal/scheduler"
	"github.com/mguest/inspectd/internal/store"
	"github.com/mguest/inspectd/internal/updates"
	"github.com/mguest/inspectd/internal/webhook"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/db"
	"github.com/mguest/inspectd/platform/logger"
	"github.com/mguest/inspectd/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	deadlines, closeDeadlines := initDeadlineScheduler(cfg, log)
	if closeDeadlines != nil {
		defer closeDeadlines()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	tasks := store.NewTaskRepository(pool)
	invites := store.NewInvitationRepository(pool)
	guests := store.NewGuestRepository(pool)
	formSessions := store.NewSessionRepository(pool)

	crmClient := crm.NewClient(cfg, log)
	botClient := chat.NewClient(cfg, log)

	// Admin notifier subscribes to domain events (not HTTP-facing)
	notifier := chat.NewAdminNotifier(botClient, cfg, log)
	notifier.RegisterHandlers(eventBus)

	coordinator := invitations.NewCoordinator(tasks, invites, guests, crmClient, botClient, eventBus, cfg, cfg, cfg, log)
	lifecycleEngine := lifecycle.NewEngine(tasks, guests, formSessions, crmClient, botClient, coordinator, eventBus, deadlines, cfg, log)

	wizard := registration.NewWizard(registration.NewStore(), guests, crmClient, botClient, eventBus, cfg, cfg, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: pool,
		Modules: []apphttp.Module{
			webhook.NewModule(lifecycleEngine, cfg, log),
			forms.NewModule(formSessions, tasks, guests, crmClient, botClient, eventBus, val, cfg, cfg, cfg, log),
			updates.NewModule(botClient, wizard, coordinator, cfg, log),
		},
	}

	engine := router.New(app)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initDeadlineScheduler(cfg config.SchedulerConfig, log *logger.Logger) (lifecycle.DeadlineScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; deadline checks disabled")
		return nil, nil
	}

	deadlineClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize deadline scheduler client", "error", err)
		return nil, nil
	}

	return deadlineClient, func() {
		_ = deadlineClient.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
