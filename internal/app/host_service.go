package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/installd/internal/component"
	"github.com/dokzlo13/installd/internal/config"
	"github.com/dokzlo13/installd/internal/eventbus"
	"github.com/dokzlo13/installd/internal/host"
	"github.com/dokzlo13/installd/internal/ledger"
	"github.com/dokzlo13/installd/internal/workload"
)

// HostService owns the executor chain that carries commands to the host:
// an async dispatcher over a rate limiter over retries over the executor
// selected by host mode. In local mode there is no host and no chain.
type HostService struct {
	cfg        *config.Config
	Emulator   *host.Emulator
	Dispatcher *host.Async
}

// NewHostService builds the executor chain. Status reports from the
// executor are published on the bus.
func NewHostService(cfg *config.Config, bus *eventbus.Bus, l *ledger.Ledger) (*HostService, error) {
	s := &HostService{cfg: cfg}
	if cfg.Host.Mode == config.HostModeLocal {
		return s, nil
	}

	report := func(u host.Update) {
		bus.Publish(eventbus.Event{Type: eventbus.EventTypeStatus, Data: u.Data()})
	}

	var inner host.Executor
	switch cfg.Host.Mode {
	case config.HostModeEmulator:
		s.Emulator = host.NewEmulator(report, cfg.Host.CompletionDelay.Duration(), cfg.Host.Installed...)
		inner = s.Emulator
	case config.HostModeExec:
		execExecutor, err := host.NewExecExecutor(host.ExecTemplates{
			Install:   cfg.Host.Commands.Install,
			Uninstall: cfg.Host.Commands.Uninstall,
			Status:    cfg.Host.Commands.Status,
		}, nil, report)
		if err != nil {
			return nil, err
		}
		inner = execExecutor
	default:
		return nil, fmt.Errorf("unknown host mode %q", cfg.Host.Mode)
	}

	retrying := host.NewRetrying(inner, host.RetryConfig{
		Attempts: cfg.Host.Retry.Attempts,
		Delay:    cfg.Host.Retry.Delay.Duration(),
		MaxDelay: cfg.Host.Retry.MaxDelay.Duration(),
	})
	limited := host.NewLimited(retrying, cfg.Host.RateLimitRPS)
	s.Dispatcher = host.NewAsync(limited, cfg.Host.Workers, cfg.Host.QueueSize)
	s.Dispatcher.OnError = func(cmd host.Command, err error) {
		if l == nil {
			return
		}
		if lerr := l.Append(ledger.EventCommandFailed, "", cmd.Name, cmd.RequestID, map[string]any{
			"cmd":   string(cmd.Cmd),
			"state": cmd.State,
			"error": err.Error(),
		}); lerr != nil {
			log.Error().Err(lerr).Msg("Failed to record command failure")
		}
	}

	log.Info().Str("mode", cfg.Host.Mode).Float64("rate_limit_rps", cfg.Host.RateLimitRPS).Uint("retry_attempts", cfg.Host.Retry.Attempts).Msg("Host executor ready")
	return s, nil
}

// NewComponent creates a component of the variant the host mode calls for.
func (s *HostService) NewComponent(c workload.Component) component.Installable {
	if s.Dispatcher == nil {
		initial, err := component.ParseState(c.State)
		if err != nil {
			initial = component.StateUnknown
		}
		return component.NewEmulatedWithState(c.ID, s.cfg.Host.CompletionDelay.Duration(), initial)
	}
	return component.NewHosted(c.ID, s.Dispatcher, s.cfg.Host.StaleAfter.Duration())
}

// Close drains the dispatcher.
func (s *HostService) Close(ctx context.Context) {
	if s.Dispatcher != nil {
		s.Dispatcher.Close(ctx)
	}
}
