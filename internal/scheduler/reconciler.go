package scheduler

import (
	"context"
	"time"

	"github.com/mguest/inspectd/internal/invitations"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"
)

const defaultReconcileInterval = 30 * time.Second

// Reconciler periodically re-drives CRM state for tasks whose locally
// recorded assignment the CRM has not confirmed yet. It converges accepts
// that landed while the CRM task was still invisible to the read API.
type Reconciler struct {
	coordinator *invitations.Coordinator
	log         *logger.Logger
	interval    time.Duration
}

func NewReconciler(coordinator *invitations.Coordinator, cfg config.ReconcileConfig, log *logger.Logger) *Reconciler {
	interval := cfg.GetReconcileInterval()
	if interval <= 0 {
		interval = defaultReconcileInterval
	}

	return &Reconciler{
		coordinator: coordinator,
		log:         log,
		interval:    interval,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	if r == nil || r.coordinator == nil {
		return
	}

	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	if err := r.coordinator.ReconcileOnce(ctx); err != nil {
		r.log.Warn("assignment_reconcile_failed", "error", err.Error())
	}
}
