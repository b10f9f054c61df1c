package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/neoguard/internal/app/metrics"
	registrysvc "github.com/R3E-Network/neoguard/internal/app/services/registry"
	vaultsvc "github.com/R3E-Network/neoguard/internal/app/services/vaults"
	"github.com/R3E-Network/neoguard/internal/app/storage"
	"github.com/R3E-Network/neoguard/internal/app/storage/memory"
	"github.com/R3E-Network/neoguard/internal/app/system"
	"github.com/R3E-Network/neoguard/internal/authorizer"
	"github.com/R3E-Network/neoguard/internal/events"
	"github.com/R3E-Network/neoguard/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Vaults   storage.VaultStore
	Registry storage.RegistryStore
	Settings storage.SettingsStore
}

// Options configures the application beyond persistence.
type Options struct {
	Stores Stores
	// Events receives every domain event. Nil gets a fresh ring buffer.
	Events events.EventLogger
	Log    *logger.Logger

	// Admin may change the registry's implementation template. Empty
	// disables the operation entirely.
	Admin string
	// Implementation seeds the template on first start.
	Implementation  string
	DefaultTimelock time.Duration
	// ReconcileSchedule drives the background owner-index sweep. Empty
	// uses the reconciler's default.
	ReconcileSchedule string

	Now func() time.Time
}

// Application ties the vault and registry services together and manages
// their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	unsubscribeMetrics func()

	Vaults     *vaultsvc.Service
	Registry   *registrysvc.Service
	Authorizer *authorizer.Authorizer
	Events     events.EventLogger
}

// New builds a fully initialised application.
func New(opts Options) (*Application, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("app")
	}
	ring := opts.Events
	if ring == nil {
		ring = events.NewRingBuffer(1000)
	}

	stores := opts.Stores
	if stores.Vaults == nil || stores.Registry == nil || stores.Settings == nil {
		mem := memory.New()
		if stores.Vaults == nil {
			stores.Vaults = mem
		}
		if stores.Registry == nil {
			stores.Registry = mem
		}
		if stores.Settings == nil {
			stores.Settings = mem
		}
	}

	auth := authorizer.New()

	vaults := vaultsvc.New(vaultsvc.Config{
		Store:      stores.Vaults,
		Authorizer: auth,
		Events:     ring,
		Log:        log.WithField("service", "vaults"),
		Now:        opts.Now,
	})

	registry := registrysvc.New(registrysvc.Config{
		Records:         stores.Registry,
		Vaults:          stores.Vaults,
		Settings:        stores.Settings,
		Events:          ring,
		Log:             log.WithField("service", "registry"),
		Now:             opts.Now,
		Admin:           opts.Admin,
		Implementation:  opts.Implementation,
		DefaultTimelock: opts.DefaultTimelock,
	})

	// Executed recoveries propagate into the registry's owner index.
	vaults.SetNotifier(registry)

	manager := system.NewManager()
	reconciler := registrysvc.NewReconciler(registry, opts.ReconcileSchedule, log.WithField("service", "registry-reconciler"))
	if err := manager.Register(reconciler); err != nil {
		return nil, fmt.Errorf("register reconciler: %w", err)
	}

	unsubscribe := ring.Subscribe(metrics.ObserveEvent)

	return &Application{
		manager:            manager,
		log:                log,
		unsubscribeMetrics: unsubscribe,
		Vaults:             vaults,
		Registry:           registry,
		Authorizer:         auth,
		Events:             ring,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start seeds persistent state and begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Registry.EnsureImplementation(ctx); err != nil {
		return err
	}
	return a.manager.Start(ctx)
}

// Stop stops all services and detaches the metrics subscriber.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.unsubscribeMetrics != nil {
		a.unsubscribeMetrics()
		a.unsubscribeMetrics = nil
	}
	return err
}
