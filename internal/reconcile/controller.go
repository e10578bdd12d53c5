package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/installd/internal/component"
)

var ErrDuplicateComponent = errors.New("duplicate component id")

// Recorder receives a record of what the controller did. Implementations
// must not block.
type Recorder interface {
	ActionIssued(controller string, d Decision)
	ComponentStale(controller, id string)
}

// Controller owns a set of components plus the last observed and desired
// snapshots, and converges one toward the other.
type Controller struct {
	name string

	mu         sync.Mutex
	components []component.Installable
	index      map[string]component.Installable
	observed   Snapshot
	desired    Snapshot
	stale      map[string]bool
	recorder   Recorder
}

// NewController creates a controller. Components with a repeated id are
// dropped with an error log.
func NewController(name string, comps ...component.Installable) *Controller {
	c := &Controller{
		name:  name,
		index: make(map[string]component.Installable),
		stale: make(map[string]bool),
	}
	for _, comp := range comps {
		if err := c.AddComponent(comp); err != nil {
			log.Error().Err(err).Str("controller", name).Msg("Component not registered")
		}
	}
	return c
}

func (c *Controller) Name() string { return c.name }

// SetRecorder attaches a recorder for issued actions and staleness.
func (c *Controller) SetRecorder(r Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorder = r
}

// AddComponent registers a component. Registration order is reconcile order.
func (c *Controller) AddComponent(comp component.Installable) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.index[comp.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, comp.ID())
	}
	c.components = append(c.components, comp)
	c.index[comp.ID()] = comp
	return nil
}

// Components returns the registered components in order.
func (c *Controller) Components() []component.Installable {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]component.Installable, len(c.components))
	copy(out, c.components)
	return out
}

// SetDesired replaces the desired snapshot wholesale.
func (c *Controller) SetDesired(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.desired = s
	log.Debug().Str("controller", c.name).Int("components", len(s.Components)).Msg("Desired state replaced")
}

func (c *Controller) Desired() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desired
}

func (c *Controller) Observed() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed
}

// Has reports whether a component with id is registered.
func (c *Controller) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[id]
	return ok
}

// SetObserved applies an inbound observation for one component. Unknown ids
// are logged and ignored.
func (c *Controller) SetObserved(id string, state component.State) bool {
	c.mu.Lock()
	comp, ok := c.index[id]
	c.mu.Unlock()
	if !ok {
		log.Debug().Str("controller", c.name).Str("component", id).Msg("Status update for unknown component ignored")
		return false
	}

	comp.SetObserved(state)
	c.recordObserved(id, state)
	return true
}

// ApplyUpdate is SetObserved for a host update carrying the request id it
// answers. Components that correlate updates may drop stale ones, in which
// case the observed snapshot is left alone and false is returned.
func (c *Controller) ApplyUpdate(id string, state component.State, requestID string) bool {
	c.mu.Lock()
	comp, ok := c.index[id]
	c.mu.Unlock()
	if !ok {
		return false
	}

	if corr, ok := comp.(component.Correlated); ok {
		if !corr.SetObservedFor(state, requestID) {
			return false
		}
	} else {
		comp.SetObserved(state)
	}
	c.recordObserved(id, state)
	return true
}

func (c *Controller) recordObserved(id string, state component.State) {
	c.mu.Lock()
	c.observed = c.observed.With(id, string(state))
	delete(c.stale, id)
	c.mu.Unlock()

	log.Debug().Str("controller", c.name).Str("component", id).Str("state", string(state)).Msg("Observed state updated")
}

// Observe refreshes every component and replaces the observed snapshot.
func (c *Controller) Observe(ctx context.Context) {
	comps := c.Components()

	s := Snapshot{Components: make([]Entry, 0, len(comps))}
	var newlyStale []string
	for _, comp := range comps {
		st := comp.Observe(ctx)
		s.Components = append(s.Components, Entry{ID: st.ID, State: string(st.State)})
		if comp.Details().Stale {
			newlyStale = append(newlyStale, comp.ID())
		}
	}

	c.mu.Lock()
	c.observed = s
	var report []string
	for _, id := range newlyStale {
		if !c.stale[id] {
			c.stale[id] = true
			report = append(report, id)
		}
	}
	recorder := c.recorder
	c.mu.Unlock()

	for _, id := range report {
		log.Warn().Str("controller", c.name).Str("component", id).Msg("Host has not answered status queries, observation is stale")
		if recorder != nil {
			recorder.ComponentStale(c.name, id)
		}
	}
}

// Plan computes the per-component decisions without acting on them.
func (c *Controller) Plan() []Decision {
	c.mu.Lock()
	desired, observed := c.desired, c.observed
	c.mu.Unlock()
	return Plan(desired, observed, c.Components())
}

// Reconcile compares desired and observed and calls Add or Remove where they
// differ. It returns the decisions that were acted on.
func (c *Controller) Reconcile(ctx context.Context) []Decision {
	c.mu.Lock()
	desired, observed, recorder := c.desired, c.observed, c.recorder
	comps := make([]component.Installable, len(c.components))
	copy(comps, c.components)
	c.mu.Unlock()

	if desired.IsEmpty() {
		log.Debug().Str("controller", c.name).Msg("Reconcile NOP, no desired state")
		return nil
	}
	if desired.Canonical() == observed.Canonical() {
		log.Debug().Str("controller", c.name).Msg("Reconcile NOP, converged")
		return nil
	}
	logSnapshotDiff(c.name, observed, desired)

	plan := Plan(desired, observed, comps)
	var issued []Decision
	for i, d := range plan {
		switch d.Action {
		case ActionSkip:
			log.Debug().Str("controller", c.name).Str("component", d.ID).Msg("No desired state for component, skipping")
		case ActionWait:
			log.Debug().Str("controller", c.name).Str("component", d.ID).Str("observed", string(d.Observed)).Str("desired", string(d.Desired)).Msg("Update in progress")
		case ActionAdd:
			comps[i].Add(ctx)
		case ActionRemove:
			comps[i].Remove(ctx)
		}

		if !d.Action.Acts() {
			continue
		}
		log.Info().Str("controller", c.name).Str("component", d.ID).Str("action", d.Action.String()).Str("observed", string(d.Observed)).Msg("Reconcile action issued")
		issued = append(issued, d)
		if recorder != nil {
			recorder.ActionIssued(c.name, d)
		}
	}

	if len(issued) == 0 {
		log.Debug().Str("controller", c.name).Msg("Reconcile NOP, no component needs an action")
	}
	return issued
}

// Status is a point-in-time view of a controller.
type Status struct {
	Name       string              `json:"name"`
	Converged  bool                `json:"converged"`
	Observed   Snapshot            `json:"observed"`
	Desired    Snapshot            `json:"desired"`
	Components []component.Details `json:"components"`
}

// Status reports snapshots and per-component details.
func (c *Controller) Status() Status {
	c.mu.Lock()
	desired, observed := c.desired, c.observed
	c.mu.Unlock()

	comps := c.Components()
	st := Status{
		Name:       c.name,
		Observed:   observed,
		Desired:    desired,
		Components: make([]component.Details, 0, len(comps)),
	}
	for _, comp := range comps {
		st.Components = append(st.Components, comp.Details())
	}

	st.Converged = true
	for _, d := range Plan(desired, observed, comps) {
		if d.Action != ActionNone && d.Action != ActionSkip {
			st.Converged = false
			break
		}
	}
	return st
}
