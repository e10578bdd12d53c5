package component

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/installd/internal/host"
)

// DefaultStaleAfter is how long a host request may go unanswered before the
// component is considered stale.
const DefaultStaleAfter = 30 * time.Second

// Hosted delegates transitions to the host executor. Both Add and Remove
// pass through an in-progress phase, because the host acknowledges only
// through a later status update.
type Hosted struct {
	id         string
	exec       host.Executor
	staleAfter time.Duration
	now        func() time.Time

	mu          sync.Mutex
	state       State
	desired     DesiredState
	busy        bool
	reported    bool      // a report has arrived since start or the last expiry
	pending     string    // request id of the in-flight transition
	pendingSeen time.Time // send time or latest in_progress report of pending
	querySince  time.Time // oldest unanswered status query
	lastQuery   time.Time
	lastReport  time.Time
}

// NewHosted creates a host-backed component in the unknown state. It stays
// busy until the host answers its first status query.
func NewHosted(id string, exec host.Executor, staleAfter time.Duration) *Hosted {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Hosted{
		id:         id,
		exec:       exec,
		staleAfter: staleAfter,
		now:        time.Now,
		state:      StateUnknown,
		desired:    DesiredUnknown,
	}
}

func (c *Hosted) ID() string { return c.id }

func (c *Hosted) Add(ctx context.Context) {
	c.transition(ctx, DesiredInstalled)
}

func (c *Hosted) Remove(ctx context.Context) {
	c.transition(ctx, DesiredUninstalled)
}

func (c *Hosted) transition(ctx context.Context, target DesiredState) {
	c.mu.Lock()
	if c.busyLocked() || target.Matches(c.state) {
		log.Debug().Str("component", c.id).Str("state", string(c.state)).Bool("busy", c.busyLocked()).Str("target", string(target)).Msg("Transition skipped")
		c.mu.Unlock()
		return
	}
	// Remove only applies to something installed.
	if target == DesiredUninstalled && c.state != StateInstalled {
		log.Debug().Str("component", c.id).Str("state", string(c.state)).Msg("Remove skipped")
		c.mu.Unlock()
		return
	}

	prevState, prevDesired := c.state, c.desired
	cmd := host.SetDesired(c.id, string(target))
	c.desired = target
	c.busy = true
	c.state = StateInProgress
	c.pending = cmd.RequestID
	c.pendingSeen = c.now()
	c.mu.Unlock()

	if err := c.exec.Send(ctx, cmd); err != nil {
		log.Error().Err(err).Str("component", c.id).Str("target", string(target)).Msg("Failed to send transition to host")
		c.mu.Lock()
		if c.pending == cmd.RequestID {
			c.state, c.desired = prevState, prevDesired
			c.busy = false
			c.pending = ""
		}
		c.mu.Unlock()
		return
	}

	log.Info().Str("component", c.id).Str("target", string(target)).Str("request_id", cmd.RequestID).Msg("Requested component transition")
	c.armExpiry(cmd.RequestID, c.staleAfter)
}

func (c *Hosted) armExpiry(requestID string, after time.Duration) {
	time.AfterFunc(after, func() { c.expire(requestID) })
}

// expire releases a transition the host stopped reporting on so that a
// later reconcile can issue it again. Each in_progress report pushes the
// deadline out by stale_after.
func (c *Hosted) expire(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != requestID || !c.busy {
		return
	}
	if left := c.staleAfter - c.now().Sub(c.pendingSeen); left > 0 {
		c.armExpiry(requestID, left)
		return
	}
	c.busy = false
	c.pending = ""
	c.state = StateUnknown
	c.reported = false
	log.Warn().Str("component", c.id).Str("request_id", requestID).Dur("stale_after", c.staleAfter).Msg("Host did not confirm transition, marking state unknown")
}

// Observe returns the last reported state and asks the host for a fresh
// one. While a query is outstanding no new one is sent until it goes stale.
func (c *Hosted) Observe(ctx context.Context) Status {
	c.mu.Lock()
	status := Status{ID: c.id, State: c.state}
	now := c.now()
	send := c.querySince.IsZero() || now.Sub(c.lastQuery) > c.staleAfter
	if send {
		if c.querySince.IsZero() {
			c.querySince = now
		}
		c.lastQuery = now
	}
	c.mu.Unlock()

	if !send {
		return status
	}
	if err := c.exec.Send(ctx, host.StatusQuery(c.id)); err != nil {
		log.Warn().Err(err).Str("component", c.id).Msg("Failed to send status query")
		c.mu.Lock()
		c.lastQuery = time.Time{}
		c.mu.Unlock()
	}
	return status
}

// SetObserved applies a status update from the host.
func (c *Hosted) SetObserved(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(state)
}

// SetObservedFor applies a status update that carries the request id it
// answers. While a transition is pending, a report that answers some other
// request and shows neither progress nor the target state predates the
// transition; it is dropped and false is returned.
func (c *Hosted) SetObservedFor(state State, requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != "" && requestID != c.pending &&
		state != StateInProgress && !c.desired.Matches(state) {
		log.Debug().Str("component", c.id).Str("state", string(state)).Str("request_id", requestID).Str("pending", c.pending).Msg("Stale status update dropped")
		return false
	}
	c.applyLocked(state)
	return true
}

func (c *Hosted) applyLocked(state State) {
	c.state = state
	c.reported = true
	c.lastReport = c.now()
	c.querySince = time.Time{}
	c.lastQuery = time.Time{}
	if state == StateInProgress {
		c.busy = true
		if c.pending != "" {
			c.pendingSeen = c.lastReport
		}
		return
	}
	c.busy = false
	c.pending = ""
}

// Busy is true while a transition is in flight or before the host has
// reported at all.
func (c *Hosted) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyLocked()
}

func (c *Hosted) busyLocked() bool {
	return c.busy || !c.reported
}

// Stale reports whether a status query has gone unanswered past the threshold.
func (c *Hosted) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staleLocked()
}

func (c *Hosted) staleLocked() bool {
	return !c.querySince.IsZero() && c.now().Sub(c.querySince) > c.staleAfter
}

func (c *Hosted) Details() Details {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Details{
		ID:         c.id,
		State:      c.state,
		Desired:    c.desired,
		Busy:       c.busyLocked(),
		Stale:      c.staleLocked(),
		LastReport: c.lastReport,
	}
}
