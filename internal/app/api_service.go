package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/installd/internal/api"
	"github.com/dokzlo13/installd/internal/config"
	"github.com/dokzlo13/installd/internal/eventbus"
	"github.com/dokzlo13/installd/internal/ledger"
	"github.com/dokzlo13/installd/internal/reconcile"
)

// APIService wraps the HTTP API server.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, manager *reconcile.Manager, bus *eventbus.Bus, l *ledger.Ledger) *APIService {
	return &APIService{
		cfg:    cfg,
		server: api.NewServer(cfg.API.Addr(), manager, bus, l),
	}
}

// Start begins the API server if enabled. A listen failure is fatal.
func (s *APIService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.API.Enabled {
		log.Debug().Msg("API server disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("API server error")
			onFatalError(err)
		}
	}()
}
