// Package component models installable units and their observed/desired state.
package component

import "fmt"

// State is the last known real-world state of a component.
type State string

const (
	StateUnknown     State = "unknown"
	StateUninstalled State = "uninstalled"
	StateInProgress  State = "in_progress"
	StateInstalled   State = "installed"
)

// ParseState converts a wire string into a State. Empty means unknown.
func ParseState(s string) (State, error) {
	switch State(s) {
	case "", StateUnknown:
		return StateUnknown, nil
	case StateUninstalled, StateInProgress, StateInstalled:
		return State(s), nil
	default:
		return StateUnknown, fmt.Errorf("invalid component state %q", s)
	}
}

// DesiredState is a requested target. There is no in-progress target.
type DesiredState string

const (
	DesiredUnknown     DesiredState = "unknown"
	DesiredUninstalled DesiredState = "uninstalled"
	DesiredInstalled   DesiredState = "installed"
)

// ParseDesiredState converts a wire string into a DesiredState. Empty means unknown.
func ParseDesiredState(s string) (DesiredState, error) {
	switch DesiredState(s) {
	case "", DesiredUnknown:
		return DesiredUnknown, nil
	case DesiredUninstalled, DesiredInstalled:
		return DesiredState(s), nil
	default:
		return DesiredUnknown, fmt.Errorf("invalid desired state %q", s)
	}
}

// Matches reports whether the observed state satisfies the desired one.
func (d DesiredState) Matches(s State) bool {
	switch d {
	case DesiredInstalled:
		return s == StateInstalled
	case DesiredUninstalled:
		return s == StateUninstalled
	}
	return false
}
