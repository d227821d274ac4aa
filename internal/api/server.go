// Package api exposes the advice service over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/cashwise/internal/advice"
	"github.com/opensource-finance/cashwise/internal/corpus"
	"github.com/opensource-finance/cashwise/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. Rate limiting needs a cache and is skipped without one.
func NewServer(cfg domain.ServerConfig, limits domain.RateLimitConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, advisor *advice.Service, provider *corpus.Provider, version string) *Server {
	handler := NewHandler(repo, cache, bus, advisor, provider, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		if limits.Enabled && cache != nil && limits.Requests > 0 && limits.Window > 0 {
			r.Use(RateLimitMiddleware(cache, limits.Requests, time.Duration(limits.Window)*time.Second))
		}

		r.Post("/suggest", handler.Suggest)

		// Rule corpus
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules/reload", handler.ReloadRules)
		r.Post("/rules/validate", handler.ValidateRules)

		// Account registry
		r.Get("/accounts", handler.ListAccounts)
		r.Post("/accounts", handler.SaveAccount)
		r.Delete("/accounts/{id}", handler.DeactivateAccount)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
