// Package web exposes the matching engine over HTTP: case and sighting
// endpoints, reviewer actions, notifications, and the SSE transition
// stream.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/reunitehq/reunite/internal/config"
	"github.com/reunitehq/reunite/internal/coordinator"
	"github.com/reunitehq/reunite/internal/notify"
	"github.com/reunitehq/reunite/internal/provider"
	"github.com/reunitehq/reunite/internal/registry"
	"github.com/reunitehq/reunite/internal/web/middleware"
)

// Server represents the web server.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server

	coordinator *coordinator.Coordinator
	store       *registry.Store
	dispatcher  *notify.Dispatcher
	provider    *provider.Client
}

// NewServer creates a new web server. The provider may be nil when the
// engine runs on precomputed embeddings only.
func NewServer(cfg *config.Config, c *coordinator.Coordinator, store *registry.Store, d *notify.Dispatcher, p *provider.Client) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:      cfg,
		router:      r,
		coordinator: c,
		store:       store,
		dispatcher:  d,
		provider:    p,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // long timeout for SSE and photo uploads
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
