// Package workload describes the desired-state input: named workloads, each
// listing the components it wants installed or removed.
package workload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dokzlo13/installd/internal/component"
)

var ErrInvalidWorkload = errors.New("invalid workload")

// Component is one entry of a workload. State is informational only; the
// controller observes the real state itself.
type Component struct {
	ID           string `json:"id" yaml:"id" toml:"id"`
	Title        string `json:"title,omitempty" yaml:"title,omitempty" toml:"title"`
	State        string `json:"state,omitempty" yaml:"state,omitempty" toml:"state"`
	DesiredState string `json:"desiredState" yaml:"desired_state" toml:"desired_state"`
	// When is an optional platform expression, e.g. `os == "windows"`.
	When string `json:"when,omitempty" yaml:"when,omitempty" toml:"when"`
}

// Workload is a named group of components reconciled by one controller.
type Workload struct {
	Name       string      `json:"name" yaml:"name" toml:"name"`
	Title      string      `json:"title,omitempty" yaml:"title,omitempty" toml:"title"`
	Components []Component `json:"components" yaml:"components" toml:"components"`
}

// IDs returns the component ids in registration order.
func (w Workload) IDs() []string {
	ids := make([]string, len(w.Components))
	for i, c := range w.Components {
		ids[i] = c.ID
	}
	return ids
}

// Find returns the workload with the given name.
func Find(workloads []Workload, name string) (Workload, bool) {
	for _, w := range workloads {
		if w.Name == name {
			return w, true
		}
	}
	return Workload{}, false
}

// Validate checks names, uniqueness and state values.
func Validate(workloads []Workload) error {
	seen := make(map[string]bool, len(workloads))
	for i, w := range workloads {
		if strings.TrimSpace(w.Name) == "" {
			return fmt.Errorf("%w: workload %d has no name", ErrInvalidWorkload, i)
		}
		if seen[w.Name] {
			return fmt.Errorf("%w: duplicate workload %q", ErrInvalidWorkload, w.Name)
		}
		seen[w.Name] = true

		ids := make(map[string]bool, len(w.Components))
		for j, c := range w.Components {
			if strings.TrimSpace(c.ID) == "" {
				return fmt.Errorf("%w: %s: component %d has no id", ErrInvalidWorkload, w.Name, j)
			}
			if ids[c.ID] {
				return fmt.Errorf("%w: %s: duplicate component %q", ErrInvalidWorkload, w.Name, c.ID)
			}
			ids[c.ID] = true

			if _, err := component.ParseDesiredState(c.DesiredState); err != nil {
				return fmt.Errorf("%w: %s/%s: %v", ErrInvalidWorkload, w.Name, c.ID, err)
			}
			if _, err := component.ParseState(c.State); err != nil {
				return fmt.Errorf("%w: %s/%s: %v", ErrInvalidWorkload, w.Name, c.ID, err)
			}
		}
	}
	return nil
}
