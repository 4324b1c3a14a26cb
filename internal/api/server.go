package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server is the HTTP API server with websocket support.
type Server struct {
	router      *chi.Mux
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	log         *zap.SugaredLogger
}

// NewServer builds the router and an unstarted http.Server for addr.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// For testing HTTP endpoints, use Router() or NewRouter() directly.
func NewServer(addr string, cfg RouterConfig) *Server {
	if cfg.RateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		cfg.RateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	s := &Server{
		router:      NewRouter(cfg),
		rateLimiter: cfg.RateLimiter,
		log:         cfg.Logger,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving and starts background workers.
// It blocks until the server stops; a graceful Shutdown returns nil.
func (s *Server) Start() error {
	s.rateLimiter.StartCleanup()

	s.log.Infow("🌐 API server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown stops accepting requests and waits for in-flight ones.
// Hijacked websockets are not tracked by http.Server; close rooms first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
