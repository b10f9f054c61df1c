package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/neoguard/internal/app/system"
	"github.com/R3E-Network/neoguard/pkg/logger"
)

// Reconciler re-syncs every registry record against its vault on a cron
// schedule, repairing indexes left stale by dropped recovery notifications
// or out-of-band ownership changes. It also sweeps once at startup.
type Reconciler struct {
	registry *Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Reconciler)(nil)

func NewReconciler(registry *Service, schedule string, log *logger.Logger) *Reconciler {
	if schedule == "" {
		schedule = "@every 5m"
	}
	if log == nil {
		log = logger.NewDefault("registry-reconciler")
	}
	return &Reconciler{
		registry: registry,
		schedule: schedule,
		log:      log,
	}
}

func (r *Reconciler) Name() string { return "registry-reconciler" }

func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.sweep(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.schedule, err)
	}

	r.cancel = cancel
	r.cron = c
	r.running = true

	// Repair anything that went stale while the process was down before
	// the first scheduled run.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sweep(runCtx)
	}()

	c.Start()
	r.log.WithField("schedule", r.schedule).Info("registry reconciler started")
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	c := r.cron
	r.running = false
	r.cancel = nil
	r.cron = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if c != nil {
			<-c.Stop().Done()
		}
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *Reconciler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	changed, err := r.registry.SweepOwners(ctx)
	if err != nil {
		r.log.WithError(err).Warn("owner index sweep failed")
		return
	}
	if changed > 0 {
		r.log.Infof("owner index sweep repaired %d records", changed)
	}
}
