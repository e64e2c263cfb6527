package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/metrics"
	"github.com/alanyoungcy/predictx/internal/server/handler"
	"github.com/alanyoungcy/predictx/internal/server/middleware"
	"github.com/alanyoungcy/predictx/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is the number of requests per RateWindow per client IP.
	// Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Nil handlers leave their routes unregistered.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Predictions *handler.PredictionHandler
	Events      *handler.EventsHandler
	Pipeline    *handler.PipelineHandler
}

// Deps are the optional collaborators of the middleware chain.
type Deps struct {
	Hub     *ws.Hub
	Metrics *metrics.Metrics
	Limiter domain.RateLimiter
}

// Server is the HTTP + WebSocket API of the prediction market.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	}

	if m := handlers.Markets; m != nil {
		mux.HandleFunc("GET /markets", m.ListMarkets)
		mux.HandleFunc("POST /markets", m.CreateMarket)
		mux.HandleFunc("GET /markets/{id}", m.GetMarket)
		mux.HandleFunc("GET /markets/{id}/bets", m.ListBets)
		mux.HandleFunc("POST /markets/{id}/bets", m.PlaceBet)
		mux.HandleFunc("POST /markets/{id}/resolve", m.ResolveMarket)
		mux.HandleFunc("GET /markets/{id}/balances/{participant}", m.GetBalance)
	}

	if p := handlers.Predictions; p != nil {
		mux.HandleFunc("GET /predictions", p.ListPredictions)
		mux.HandleFunc("POST /predictions/ai", p.CreateAIPrediction)
		mux.HandleFunc("POST /predictions/kol", p.CreateKOLPrediction)
		mux.HandleFunc("GET /predictions/{id}", p.GetPrediction)
		mux.HandleFunc("POST /predictions/{id}/evaluate", p.Evaluate)
		mux.HandleFunc("POST /support", p.Support)
		mux.HandleFunc("GET /leaderboard", p.Leaderboard)
	}

	if handlers.Events != nil {
		mux.HandleFunc("GET /events", handlers.Events.ListEvents)
	}
	if handlers.Pipeline != nil {
		mux.HandleFunc("POST /admin/evaluate", handlers.Pipeline.TriggerEvaluation)
	}
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	// Innermost first: auth, rate limit, metrics, logging, request id, CORS.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	if deps.Metrics != nil {
		h = middleware.Metrics(deps.Metrics)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
