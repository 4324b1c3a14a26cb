package api

import (
	"context"
	"net/http"
	"time"

	"snowfight/internal/config"
	"snowfight/internal/protocol"
	"snowfight/internal/roomservice"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RoomLister lists provisioned rooms from the room registry backend.
// roomservice.SQLiteStore satisfies it.
type RoomLister interface {
	ListRooms(ctx context.Context, status string) ([]roomservice.RoomInfo, error)
}

// JournalStats reports the match journal's counters. game.EventLog satisfies it.
type JournalStats interface {
	Stats() map[string]any
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    Rooms: manager,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Rooms is the live room registry (required)
	Rooms RoomRegistry

	// Lobby lists provisioned rooms. GET /api/lobby is only mounted when set.
	Lobby RoomLister

	// Journal is reported on /health when set.
	Journal JournalStats

	// Codec frames websocket messages. Defaults to JSON.
	Codec protocol.Codec

	// Limits bounds websocket usage. Zero fields take config defaults.
	Limits config.ResourceLimits

	// RateLimiter is an optional pre-configured HTTP limiter.
	// If nil, a new one is created from RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is only used if RateLimiter is nil.
	// If both are nil, DefaultRateLimitConfig applies.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins lists allowed origins for the API and websocket.
	// If nil, any origin is accepted.
	CORSOrigins []string

	// ClientDir holds the static game client, served at /. Empty disables it.
	ClientDir string

	Logger *zap.SugaredLogger

	// DisableLogging disables request logging (useful for benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	rooms       RoomRegistry
	lobby       RoomLister
	journal     JournalStats
	hub         *WebSocketHub
	rateLimiter *IPRateLimiter
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE - it has no side effects:
//   - No goroutines are started
//   - No network listeners are opened
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	origins := cfg.CORSOrigins
	if origins == nil {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware - Order matters!
	r.Use(middleware.RealIP)
	if !cfg.DisableLogging {
		r.Use(requestLogger(log))
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS so floods are rejected early
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	h := &routerHandlers{
		rooms:       cfg.Rooms,
		lobby:       cfg.Lobby,
		journal:     cfg.Journal,
		hub:         NewWebSocketHub(cfg.Rooms, codec, cfg.Limits, origins, log),
		rateLimiter: rateLimiter,
	}

	r.Get("/ws", h.hub.HandleWebSocket)
	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", h.handleListRooms)
		r.Get("/rooms/{id}", h.handleGetRoom)
		if h.lobby != nil {
			r.Get("/lobby", h.handleLobby)
		}
	})

	if cfg.ClientDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.ClientDir)))
	}

	return r
}

// requestLogger replaces middleware.Logger with structured zap output
func requestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debugw("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"remote", r.RemoteAddr,
					"requestId", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
