// Package server exposes the HTTP control surface for the portfolio engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/domain"
	"github.com/tillerbot/tiller/internal/portfolio"
	"github.com/tillerbot/tiller/internal/strategy"
)

// Config holds server configuration.
type Config struct {
	Log        zerolog.Logger
	Port       int
	DevMode    bool
	Manager    *portfolio.Manager
	Strategies *strategy.Registry
	Provider   domain.MarketDataProvider
}

// Server is the HTTP control surface.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	manager    *portfolio.Manager
	strategies *strategy.Registry
	provider   domain.MarketDataProvider
}

// New creates the server and mounts its routes.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		manager:    cfg.Manager,
		strategies: cfg.Strategies,
		provider:   cfg.Provider,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if devMode {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/portfolio", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Get("/cycle", s.handleCycle)
		r.Get("/history", s.handleHistory)
		r.Post("/rebalance", s.handleRebalance)
		r.Post("/quick-sell/{symbol}", s.handleQuickSell)
	})

	if s.strategies != nil {
		s.router.Route("/api/strategies", func(r chi.Router) {
			r.Get("/", s.handleStrategyList)
			r.Get("/{name}/signal", s.handleStrategySignal)
		})
	}
}

// Start starts the HTTP server. It blocks until the listener fails or the
// server shuts down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router returns the underlying router, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}
