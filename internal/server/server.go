package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/hikaku/internal/identity"
	"github.com/ashita-ai/hikaku/internal/ratelimit"
	"github.com/ashita-ai/hikaku/internal/selection"
	"github.com/ashita-ai/hikaku/internal/storage"
	"github.com/ashita-ai/hikaku/internal/vote"
)

// Server is the Hikaku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter is optional; nil disables rate limiting.
type ServerConfig struct {
	DB          *storage.DB
	Selector    *selection.Selector
	Recorder    *vote.Recorder
	IdentitySvc *identity.Service
	Limiter     ratelimit.Allower
	Logger      *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Per-IP budgets on the batch and result endpoints, per minute.
	BatchRateLimit int
	VoteRateLimit  int
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Selector:            cfg.Selector,
		Recorder:            cfg.Recorder,
		IdentitySvc:         cfg.IdentitySvc,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	batchRL := ratelimit.MiddlewareWithRequestID(cfg.Limiter, ratelimit.Rule{
		Prefix: "batch", Limit: cfg.BatchRateLimit, Window: time.Minute,
	}, ratelimit.IPKeyFunc, reqIDFunc)
	voteRL := ratelimit.MiddlewareWithRequestID(cfg.Limiter, ratelimit.Rule{
		Prefix: "vote", Limit: cfg.VoteRateLimit, Window: time.Minute,
	}, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Voting flow (rate limited by IP).
	mux.Handle("POST /comparison/batch", batchRL(http.HandlerFunc(h.HandleComparisonBatch)))
	mux.Handle("POST /comparison/result", voteRL(http.HandlerFunc(h.HandleComparisonResult)))

	// Catalog listings.
	mux.HandleFunc("GET /metrics", h.HandleListMetrics)
	mux.HandleFunc("GET /leaderboard/metrics", h.HandleListMetrics)
	mux.HandleFunc("GET /leaderboard/test-sets", h.HandleLeaderboardTestSets)
	mux.HandleFunc("GET /leaderboard/tags", h.HandleLeaderboardTags)

	// Leaderboard reads.
	mux.HandleFunc("GET /leaderboard", h.HandleLeaderboard)
	mux.HandleFunc("GET /leaderboard/glicko", h.HandleGlickoLeaderboard)
	mux.HandleFunc("GET /leaderboard/model/samples", h.HandleModelSamples)
	mux.HandleFunc("GET /sample/{id}", h.HandleSampleDetail)

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
