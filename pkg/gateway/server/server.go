// Package server wires the gateway's routes and middleware and owns the
// shutdown sequence for live relay sessions.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aj47/awaken-ambience/pkg/gateway/auth"
	"github.com/aj47/awaken-ambience/pkg/gateway/config"
	"github.com/aj47/awaken-ambience/pkg/gateway/handlers"
	"github.com/aj47/awaken-ambience/pkg/gateway/lifecycle"
	"github.com/aj47/awaken-ambience/pkg/gateway/metrics"
	"github.com/aj47/awaken-ambience/pkg/gateway/mw"
	"github.com/aj47/awaken-ambience/pkg/gateway/relay/sessions"
	"github.com/aj47/awaken-ambience/pkg/gateway/tools"
	"github.com/aj47/awaken-ambience/pkg/memory"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store     memory.Store
	verifier  *auth.Verifier
	tools     *tools.Dispatcher
	metrics   *metrics.Metrics
	sessions  *sessions.Registry
	lifecycle *lifecycle.Lifecycle
}

func New(cfg config.Config, logger *slog.Logger, store memory.Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		store:     store,
		verifier:  auth.NewVerifier(cfg.JWTSecret, cfg.TokenLifetime),
		tools:     tools.NewDispatcher(store, logger),
		metrics:   metrics.New(cfg.MetricsNamespace),
		sessions:  sessions.NewRegistry(),
		lifecycle: &lifecycle.Lifecycle{},
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("POST /token", handlers.TokenHandler{
		Store:    s.store,
		Verifier: s.verifier,
	})

	userConfig := handlers.UserConfigHandler{Store: s.store}
	s.mux.Handle("GET /config", s.authed(http.HandlerFunc(userConfig.Get)))
	s.mux.Handle("PUT /config", s.authed(http.HandlerFunc(userConfig.Put)))

	memories := handlers.MemoriesHandler{Store: s.store}
	s.mux.Handle("GET /memories", s.authed(http.HandlerFunc(memories.List)))
	s.mux.Handle("GET /memories/{id}", s.authed(http.HandlerFunc(memories.Get)))
	s.mux.Handle("PUT /memories/{id}", s.authed(http.HandlerFunc(memories.Update)))
	s.mux.Handle("DELETE /memories/{id}", s.authed(http.HandlerFunc(memories.Delete)))

	relay := handlers.RelayHandler{
		Config:    s.cfg,
		Verifier:  s.verifier,
		Store:     s.store,
		Tools:     s.tools,
		Metrics:   s.metrics,
		Logger:    s.logger,
		Sessions:  s.sessions,
		Lifecycle: s.lifecycle,
	}
	// The websocket authenticates after the upgrade; mw.Auth would reject
	// browsers that cannot send an Authorization header.
	s.mux.Handle("GET /ws", relay)
	s.mux.Handle("GET /ws/{client_id}", relay)

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) authed(next http.Handler) http.Handler {
	return mw.Auth(s.verifier, next)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.Instrument(s.metrics.RequestServed, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness and makes the relay refuse new sessions.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnSessionsDraining notifies every live relay session that the gateway is
// shutting down. Sessions are not closed; clients get time to disconnect.
func (s *Server) WarnSessionsDraining() {
	n := s.sessions.WarnAll("draining", "gateway is shutting down")
	if n > 0 {
		s.logger.Info("warned live sessions about shutdown", "sessions", n)
	}
}

// WaitSessions blocks until every relay session has ended or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

// CancelSessions force-cancels the relay sessions that outlived the grace
// period.
func (s *Server) CancelSessions() {
	n := s.sessions.CancelAll()
	if n > 0 {
		s.logger.Warn("canceled live sessions at shutdown", "sessions", n)
	}
}
