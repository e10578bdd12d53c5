package host

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Emulator is an in-process stand-in for the privileged host. It keeps an
// installed set in memory and reports back through the Reporter after a
// delay, the way a real host would answer asynchronously.
type Emulator struct {
	report Reporter
	delay  time.Duration

	mu        sync.Mutex
	installed map[string]bool
	pending   map[string]bool
}

// NewEmulator creates an emulator with the given pre-installed component names.
func NewEmulator(report Reporter, delay time.Duration, installed ...string) *Emulator {
	e := &Emulator{
		report:    report,
		delay:     delay,
		installed: make(map[string]bool),
		pending:   make(map[string]bool),
	}
	for _, name := range installed {
		e.installed[name] = true
	}
	return e
}

// Send logs the command and schedules the asynchronous answer.
func (e *Emulator) Send(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	log.Debug().Str("cmd", string(cmd.Cmd)).Str("name", cmd.Name).Str("request_id", cmd.RequestID).Msg("Host emulation call")

	switch cmd.Cmd {
	case CmdGetComponentStatus:
		e.report(Update{Name: cmd.Name, State: e.stateOf(cmd.Name), RequestID: cmd.RequestID})
	case CmdSetComponentDesiredState:
		e.mu.Lock()
		if e.pending[cmd.Name] {
			e.mu.Unlock()
			log.Debug().Str("name", cmd.Name).Msg("Host emulation: transition already pending")
			return nil
		}
		e.pending[cmd.Name] = true
		e.mu.Unlock()

		e.report(Update{Name: cmd.Name, State: "in_progress", RequestID: cmd.RequestID})
		target := cmd.State == "installed"
		time.AfterFunc(e.delay, func() {
			e.mu.Lock()
			e.installed[cmd.Name] = target
			delete(e.pending, cmd.Name)
			e.mu.Unlock()
			e.report(Update{Name: cmd.Name, State: cmd.State, RequestID: cmd.RequestID})
		})
	}
	return nil
}

func (e *Emulator) stateOf(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending[name] {
		return "in_progress"
	}
	if e.installed[name] {
		return "installed"
	}
	return "uninstalled"
}

// Installed reports whether the emulator considers name installed.
func (e *Emulator) Installed(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.installed[name]
}
