package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/installd/internal/component"
	"github.com/dokzlo13/installd/internal/eventbus"
	"github.com/dokzlo13/installd/internal/host"
	"github.com/dokzlo13/installd/internal/ledger"
	"github.com/dokzlo13/installd/internal/reconcile"
	"github.com/dokzlo13/installd/internal/workload"
)

// EventService routes bus events into the controllers.
type EventService struct {
	manager *reconcile.Manager
	ledger  *ledger.Ledger
	bus     *eventbus.Bus
	once    sync.Once
}

// NewEventService creates a new EventService.
func NewEventService(manager *reconcile.Manager, l *ledger.Ledger, bus *eventbus.Bus) *EventService {
	return &EventService{
		manager: manager,
		ledger:  l,
		bus:     bus,
	}
}

// Subscribe registers the status and desired-state handlers once.
func (s *EventService) Subscribe() {
	s.once.Do(func() {
		s.bus.Subscribe(eventbus.EventTypeStatus, s.handleStatus)
		s.bus.Subscribe(eventbus.EventTypeDesired, s.handleDesired)
	})
}

// handleStatus applies a host status update to every controller that owns
// the component.
func (s *EventService) handleStatus(event eventbus.Event) {
	u, err := host.UpdateFromData(event.Data)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping malformed status update")
		return
	}
	state, err := component.ParseState(u.State)
	if err != nil {
		log.Warn().Err(err).Str("name", u.Name).Msg("Dropping status update with invalid state")
		return
	}

	owners := 0
	for _, c := range s.manager.Controllers() {
		if !c.Has(u.Name) {
			continue
		}
		owners++
		c.ApplyUpdate(u.Name, state, u.RequestID)
	}
	if owners == 0 {
		log.Warn().Str("name", u.Name).Str("state", u.State).Msg("Status update for unknown component")
	}

	if s.ledger != nil {
		if err := s.ledger.Append(ledger.EventStatusReported, "", u.Name, u.RequestID, map[string]any{"state": u.State}); err != nil {
			log.Error().Err(err).Msg("Failed to record status update")
		}
	}
}

// handleDesired replaces the desired snapshot of each named workload and
// requests an immediate pass.
func (s *EventService) handleDesired(event eventbus.Event) {
	workloads, ok := event.Data["workloads"].([]workload.Workload)
	if !ok {
		log.Warn().Msg("Dropping desired-state event without workloads")
		return
	}
	workloads, err := workload.Filter(workloads, workload.CurrentPlatform())
	if err != nil {
		log.Warn().Err(err).Msg("Dropping desired-state event")
		return
	}

	for _, w := range workloads {
		c, ok := s.manager.Controller(w.Name)
		if !ok {
			log.Warn().Str("workload", w.Name).Msg("No controller for workload")
			continue
		}
		snap, err := reconcile.DesiredSnapshot(w)
		if err != nil {
			log.Warn().Err(err).Str("workload", w.Name).Msg("Invalid desired state")
			continue
		}
		c.SetDesired(snap)
		log.Info().Str("workload", w.Name).Int("components", len(snap.Components)).Msg("Desired state updated")
	}
	s.manager.Trigger()
}

// ledgerRecorder writes controller activity to the session ledger.
type ledgerRecorder struct {
	ledger *ledger.Ledger
}

func (r ledgerRecorder) ActionIssued(controller string, d reconcile.Decision) {
	err := r.ledger.Append(ledger.EventActionIssued, controller, d.ID, "", map[string]any{
		"action":   d.Action.String(),
		"desired":  string(d.Desired),
		"observed": string(d.Observed),
	})
	if err != nil {
		log.Error().Err(err).Str("controller", controller).Str("component", d.ID).Msg("Failed to record action")
	}
}

func (r ledgerRecorder) ComponentStale(controller, id string) {
	if err := r.ledger.Append(ledger.EventComponentStale, controller, id, "", nil); err != nil {
		log.Error().Err(err).Str("controller", controller).Str("component", id).Msg("Failed to record staleness")
	}
}
