// Package api serves the daemon's HTTP interface: health, controller status,
// desired-state replacement and inbound host status updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/installd/internal/component"
	"github.com/dokzlo13/installd/internal/eventbus"
	"github.com/dokzlo13/installd/internal/host"
	"github.com/dokzlo13/installd/internal/ledger"
	"github.com/dokzlo13/installd/internal/reconcile"
	"github.com/dokzlo13/installd/internal/workload"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP API. Writes are published to the event bus; reads go
// straight to the manager and the ledger.
type Server struct {
	addr       string
	manager    *reconcile.Manager
	bus        *eventbus.Bus
	ledger     *ledger.Ledger
	httpServer *http.Server
}

// NewServer creates a new API server. ledger may be nil.
func NewServer(addr string, manager *reconcile.Manager, bus *eventbus.Bus, l *ledger.Ledger) *Server {
	return &Server{
		addr:    addr,
		manager: manager,
		bus:     bus,
		ledger:  l,
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /v1/controllers", s.handleControllers)
	mux.HandleFunc("PUT /v1/desired", s.handleDesired)
	mux.HandleFunc("POST /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/ledger", s.handleLedger)
	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write API response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady reports ready once the first reconcile pass has completed.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.manager.Passes() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"passes":    s.manager.Passes(),
		"last_pass": s.manager.LastPass().UTC(),
	})
}

func (s *Server) handleControllers(w http.ResponseWriter, r *http.Request) {
	controllers := s.manager.Controllers()
	out := make([]reconcile.Status, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, c.Status())
	}
	writeJSON(w, http.StatusOK, map[string]any{"controllers": out})
}

// handleDesired replaces the desired state of the named workloads.
func (s *Server) handleDesired(w http.ResponseWriter, r *http.Request) {
	var body workload.Catalog
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if err := workload.Validate(body.Workloads); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	for _, wl := range body.Workloads {
		if _, ok := s.manager.Controller(wl.Name); !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no controller for workload %q", wl.Name))
			return
		}
	}

	log.Debug().Int("workloads", len(body.Workloads)).Msg("Received desired state")
	if !s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeDesired,
		Data: map[string]any{"workloads": body.Workloads},
	}) {
		writeError(w, http.StatusServiceUnavailable, errors.New("event queue full"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleStatus accepts a status update from an out-of-process host.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var u host.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if err := u.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := component.ParseState(u.State); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	log.Debug().Str("name", u.Name).Str("state", u.State).Str("request_id", u.RequestID).Msg("Received status update")
	if !s.bus.Publish(eventbus.Event{Type: eventbus.EventTypeStatus, Data: u.Data()}) {
		writeError(w, http.StatusServiceUnavailable, errors.New("event queue full"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, errors.New("ledger disabled"))
		return
	}

	limit := ledger.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	var (
		entries []*ledger.Entry
		err     error
	)
	if id := r.URL.Query().Get("component"); id != "" {
		entries, err = s.ledger.ByComponent(id, limit)
	} else {
		entries, err = s.ledger.Recent(limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to read ledger")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
