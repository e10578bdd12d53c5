package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPeriod is the fixed tick period for the whole manager.
const DefaultPeriod = time.Second

// Manager drives controllers on a fixed period. At most one pass is in
// flight; a tick that fires while a pass is running is skipped.
type Manager struct {
	period time.Duration

	mu          sync.RWMutex
	controllers []*Controller

	inFlight atomic.Bool
	passes   atomic.Int64
	lastPass atomic.Int64 // unix nanos
	trigger  chan struct{}
}

// NewManager creates a manager. A non-positive period uses DefaultPeriod.
func NewManager(period time.Duration) *Manager {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Manager{
		period:  period,
		trigger: make(chan struct{}, 1),
	}
}

// AddController appends c. There is no dedupe and no removal.
func (m *Manager) AddController(c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers = append(m.controllers, c)
}

// Controllers returns the controllers in registration order.
func (m *Manager) Controllers() []*Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Controller, len(m.controllers))
	copy(out, m.controllers)
	return out
}

// Controller returns the first controller registered under name.
func (m *Manager) Controller(name string) (*Controller, bool) {
	for _, c := range m.Controllers() {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Trigger requests an immediate pass. Requests coalesce.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Passes returns the number of completed passes.
func (m *Manager) Passes() int64 {
	return m.passes.Load()
}

// LastPass returns when the last pass completed, zero if none has.
func (m *Manager) LastPass() time.Time {
	ns := m.lastPass.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run starts the reconcile loop and blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	log.Info().Dur("period", m.period).Int("controllers", len(m.Controllers())).Msg("Reconcile loop started")

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconcile loop stopping")
			return nil
		case <-m.trigger:
			m.ReconcileAll(ctx)
		case <-ticker.C:
			m.ReconcileAll(ctx)
		}
	}
}

// ReconcileAll observes then reconciles every controller in registration
// order. It returns false without doing anything if a pass is in flight.
func (m *Manager) ReconcileAll(ctx context.Context) bool {
	if !m.inFlight.CompareAndSwap(false, true) {
		log.Debug().Msg("Reconcile pass still running, skipping tick")
		return false
	}
	defer m.inFlight.Store(false)

	start := time.Now()
	issued := 0
	for _, c := range m.Controllers() {
		if ctx.Err() != nil {
			break
		}
		c.Observe(ctx)
		issued += len(c.Reconcile(ctx))
	}

	m.passes.Add(1)
	m.lastPass.Store(time.Now().UnixNano())
	ev := log.Debug()
	if issued > 0 {
		ev = log.Info()
	}
	ev.Int("actions", issued).Dur("took", time.Since(start)).Msg("Reconcile pass completed")
	return true
}
