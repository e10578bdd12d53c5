package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/installd/internal/config"
)

// App runs the daemon: the reconcile loop, the host dispatcher and the API,
// until its context ends or a service fails.
type App struct {
	cfg      *config.Config
	services *Services
	fatal    chan error
}

// New wires all services without starting them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	services, err := NewServices(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:      cfg,
		services: services,
		fatal:    make(chan error, 1),
	}, nil
}

// Services exposes the wired services.
func (a *App) Services() *Services {
	return a.services
}

// Run starts every service and blocks until ctx is cancelled or a service
// reports a fatal error, then releases everything. The fatal error, if any,
// is returned.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer a.services.Close()
	defer cancel()

	onFatalError := func(err error) {
		select {
		case a.fatal <- err:
		default:
		}
	}
	if err := a.services.Start(runCtx, onFatalError); err != nil {
		return err
	}

	log.Info().
		Str("host_mode", a.cfg.Host.Mode).
		Int("controllers", len(a.services.Manager.Controllers())).
		Bool("api", a.cfg.API.Enabled).
		Msg("installd started")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
		return nil
	case err := <-a.fatal:
		log.Error().Err(err).Msg("Fatal error, shutting down")
		return err
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
		log.Warn().Msg("Received shutdown signal")
	}()
	return ctx
}
