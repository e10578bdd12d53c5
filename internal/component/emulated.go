package component

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCompletionDelay is how long an emulated install stays in progress.
const DefaultCompletionDelay = 2 * time.Second

// Emulated is a component with no host behind it. Add moves through an
// in-progress phase that completes on a timer; Remove is immediate.
type Emulated struct {
	id    string
	delay time.Duration

	mu      sync.Mutex
	state   State
	desired DesiredState
	busy    bool
	updated time.Time
}

// NewEmulated creates an emulated component in the unknown state.
func NewEmulated(id string, delay time.Duration) *Emulated {
	if delay <= 0 {
		delay = DefaultCompletionDelay
	}
	return &Emulated{
		id:      id,
		delay:   delay,
		state:   StateUnknown,
		desired: DesiredUnknown,
	}
}

// NewEmulatedWithState creates an emulated component with a known initial state.
func NewEmulatedWithState(id string, delay time.Duration, state State) *Emulated {
	c := NewEmulated(id, delay)
	c.state = state
	return c
}

func (c *Emulated) ID() string { return c.id }

// Add starts an install. The completion is scheduled independently of the
// caller and cannot be cancelled.
func (c *Emulated) Add(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy || c.state == StateInstalled {
		log.Debug().Str("component", c.id).Str("state", string(c.state)).Bool("busy", c.busy).Msg("Add skipped")
		return
	}

	c.desired = DesiredInstalled
	c.busy = true
	c.state = StateInProgress
	c.updated = time.Now()
	time.AfterFunc(c.delay, c.complete)

	log.Info().Str("component", c.id).Dur("delay", c.delay).Msg("Installing component")
}

func (c *Emulated) complete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateInstalled
	c.busy = false
	c.updated = time.Now()

	log.Info().Str("component", c.id).Msg("Component installed")
}

// Remove uninstalls synchronously, without an in-progress phase.
func (c *Emulated) Remove(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy || c.state != StateInstalled {
		log.Debug().Str("component", c.id).Str("state", string(c.state)).Bool("busy", c.busy).Msg("Remove skipped")
		return
	}

	c.desired = DesiredUninstalled
	c.state = StateUninstalled
	c.busy = false
	c.updated = time.Now()

	log.Info().Str("component", c.id).Msg("Component uninstalled")
}

func (c *Emulated) Observe(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{ID: c.id, State: c.state}
}

// SetObserved overrides the observed state. A pending completion timer
// still fires afterwards. An in_progress override with no install running
// starts one, so the component cannot stay busy forever.
func (c *Emulated) SetObserved(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state == StateInProgress && !c.busy {
		c.desired = DesiredInstalled
		time.AfterFunc(c.delay, c.complete)
	}
	c.state = state
	c.busy = state == StateInProgress
	c.updated = time.Now()
}

func (c *Emulated) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *Emulated) Details() Details {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Details{
		ID:         c.id,
		State:      c.state,
		Desired:    c.desired,
		Busy:       c.busy,
		LastReport: c.updated,
	}
}
