package component

import (
	"context"
	"time"
)

// Status is the observation record for one component.
type Status struct {
	ID    string `json:"id"`
	State State  `json:"state"`
}

// Details is a read-only view of a component used for status reporting.
type Details struct {
	ID         string       `json:"id"`
	State      State        `json:"state"`
	Desired    DesiredState `json:"desired"`
	Busy       bool         `json:"busy"`
	Stale      bool         `json:"stale"`
	LastReport time.Time    `json:"last_report,omitempty"`
}

// Installable is the capability shared by every component variant.
//
// Add and Remove are no-ops while the component is busy or already in the
// target state. Observe is a pure read apart from emitting an optional
// status query. SetObserved applies an inbound observation update.
type Installable interface {
	ID() string
	Add(ctx context.Context)
	Remove(ctx context.Context)
	Observe(ctx context.Context) Status
	SetObserved(state State)
	Busy() bool
	Details() Details
}

// Correlated is implemented by components that match status updates to the
// request they answer.
type Correlated interface {
	SetObservedFor(state State, requestID string) bool
}
