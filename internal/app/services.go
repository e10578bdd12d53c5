package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/installd/internal/config"
	"github.com/dokzlo13/installd/internal/db"
	"github.com/dokzlo13/installd/internal/eventbus"
	"github.com/dokzlo13/installd/internal/ledger"
	"github.com/dokzlo13/installd/internal/reconcile"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Reconciliation
	Host    *HostService
	Manager *reconcile.Manager
	Events  *EventService

	API *APIService
}

// NewServices creates all services with proper dependency injection. One
// controller is registered per workload, with its desired state applied.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Host, err = NewHostService(cfg, s.Bus, s.Ledger)
	if err != nil {
		s.Close()
		return nil, err
	}

	workloads, err := ResolveWorkloads(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Manager = reconcile.NewManager(cfg.Reconciler.Period.Duration())
	recorder := ledgerRecorder{ledger: s.Ledger}
	for _, w := range workloads {
		c := reconcile.NewController(w.Name)
		c.SetRecorder(recorder)
		for _, wc := range w.Components {
			if err := c.AddComponent(s.Host.NewComponent(wc)); err != nil {
				s.Close()
				return nil, err
			}
		}

		desired, err := reconcile.DesiredSnapshot(w)
		if err != nil {
			s.Close()
			return nil, err
		}
		c.SetDesired(desired)
		s.Manager.AddController(c)
		log.Debug().Str("controller", w.Name).Strs("components", w.IDs()).Msg("Controller registered")
	}

	s.Events = NewEventService(s.Manager, s.Ledger, s.Bus)
	s.API = NewAPIService(cfg, s.Manager, s.Bus, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.Events.Subscribe()

	go func() {
		if err := s.Manager.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()
	s.Manager.Trigger()

	s.API.Start(ctx, onFatalError)
	return nil
}

// ControllerPlan is the dry-run result for one controller.
type ControllerPlan struct {
	Controller string
	Decisions  []reconcile.Decision
}

// DryRun observes every controller, waits settle for host answers to
// arrive, observes again and returns each controller's plan. No component
// is asked to act.
func (s *Services) DryRun(ctx context.Context, settle time.Duration) []ControllerPlan {
	s.Events.Subscribe()

	controllers := s.Manager.Controllers()
	for _, c := range controllers {
		c.Observe(ctx)
	}
	if settle > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(settle):
		}
	}

	plans := make([]ControllerPlan, 0, len(controllers))
	for _, c := range controllers {
		c.Observe(ctx)
		plans = append(plans, ControllerPlan{Controller: c.Name(), Decisions: c.Plan()})
	}
	return plans
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources. The dispatcher drains before the bus so
// that final status reports are still routed.
func (s *Services) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	if s.Host != nil {
		s.Host.Close(ctx)
	}
	if s.Bus != nil {
		s.Bus.Close(ctx)
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}
}

func (s *Services) shutdownTimeout() time.Duration {
	if s.cfg != nil && s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout.Duration()
	}
	return 5 * time.Second
}
