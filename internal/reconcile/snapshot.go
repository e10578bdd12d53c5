// Package reconcile converges installable components toward their desired
// state with an observe/compare/act loop.
package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dokzlo13/installd/internal/component"
	"github.com/dokzlo13/installd/internal/workload"
)

// Entry is one component's state inside a snapshot. For desired snapshots
// State holds a DesiredState value.
type Entry struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Snapshot is a whole-controller record of component states. Snapshots are
// replaced wholesale and never merged.
type Snapshot struct {
	Components []Entry `json:"components"`
}

// IsEmpty reports whether the snapshot has no entries.
func (s Snapshot) IsEmpty() bool {
	return len(s.Components) == 0
}

// Lookup returns the entry for id.
func (s Snapshot) Lookup(id string) (Entry, bool) {
	for _, e := range s.Components {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// With returns a copy of s with id set to state, appending if absent.
func (s Snapshot) With(id, state string) Snapshot {
	out := Snapshot{Components: make([]Entry, 0, len(s.Components)+1)}
	found := false
	for _, e := range s.Components {
		if e.ID == id {
			e.State = state
			found = true
		}
		out.Components = append(out.Components, e)
	}
	if !found {
		out.Components = append(out.Components, Entry{ID: id, State: state})
	}
	return out
}

func (s Snapshot) sorted() []Entry {
	entries := make([]Entry, len(s.Components))
	copy(entries, s.Components)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Canonical serializes the snapshot with entries ordered by id, so two
// snapshots with the same content compare equal as strings.
func (s Snapshot) Canonical() string {
	data, err := json.Marshal(Snapshot{Components: s.sorted()})
	if err != nil {
		// Entries are plain strings; Marshal cannot fail.
		panic(err)
	}
	return string(data)
}

// Lines renders one `id=state` line per entry, ordered by id.
func (s Snapshot) Lines() string {
	var b strings.Builder
	for _, e := range s.sorted() {
		fmt.Fprintf(&b, "%s=%s\n", e.ID, e.State)
	}
	return b.String()
}

// DesiredSnapshot builds the desired snapshot for a workload.
func DesiredSnapshot(w workload.Workload) (Snapshot, error) {
	s := Snapshot{Components: make([]Entry, 0, len(w.Components))}
	for _, c := range w.Components {
		d, err := component.ParseDesiredState(c.DesiredState)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %s/%s: %v", workload.ErrInvalidWorkload, w.Name, c.ID, err)
		}
		s.Components = append(s.Components, Entry{ID: c.ID, State: string(d)})
	}
	return s, nil
}
