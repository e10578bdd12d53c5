package reconcile

import (
	"github.com/dokzlo13/installd/internal/component"
)

// Action represents what reconciliation action needs to be taken.
type Action int

const (
	ActionNone Action = iota
	ActionAdd
	ActionRemove
	ActionWait
	ActionSkip
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionWait:
		return "wait"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Acts reports whether the action calls into the component.
func (a Action) Acts() bool {
	return a == ActionAdd || a == ActionRemove
}

// MarshalText lets actions appear by name in JSON output.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Decision is the planned action for one component.
type Decision struct {
	ID       string                 `json:"id"`
	Desired  component.DesiredState `json:"desired,omitempty"`
	Observed component.State        `json:"observed"`
	Busy     bool                   `json:"busy"`
	Action   Action                 `json:"action"`
}

// DetermineAction is the per-component convergence rule.
func DetermineAction(desired component.DesiredState, observed component.State, busy bool) Action {
	// A transition is already in flight.
	if busy || observed == component.StateInProgress {
		return ActionWait
	}

	switch desired {
	case component.DesiredInstalled:
		if observed == component.StateInstalled {
			return ActionNone
		}
		return ActionAdd
	case component.DesiredUninstalled:
		if observed == component.StateInstalled {
			return ActionRemove
		}
		return ActionNone
	}

	// Desired unknown: nothing to converge toward yet.
	return ActionWait
}

// Plan decides an action for every component in registration order.
// Components absent from desired are skipped.
func Plan(desired, observed Snapshot, comps []component.Installable) []Decision {
	plan := make([]Decision, 0, len(comps))
	for _, c := range comps {
		id := c.ID()
		d := Decision{ID: id, Observed: component.StateUnknown, Busy: c.Busy()}
		if o, ok := observed.Lookup(id); ok {
			d.Observed = component.State(o.State)
		}

		want, ok := desired.Lookup(id)
		if !ok {
			d.Action = ActionSkip
			plan = append(plan, d)
			continue
		}
		d.Desired = component.DesiredState(want.State)
		d.Action = DetermineAction(d.Desired, d.Observed, d.Busy)
		plan = append(plan, d)
	}
	return plan
}
