// Package server assembles the HTTP and WebSocket API: wallet sign-in,
// query submission behind the payment gate, market deployment, and the
// event stream.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
	"github.com/veridexhq/veridex/internal/payment"
	"github.com/veridexhq/veridex/internal/server/handler"
	"github.com/veridexhq/veridex/internal/server/middleware"
	"github.com/veridexhq/veridex/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Auth    *handler.AuthHandler
	Queries *handler.QueryHandler
	Markets *handler.MarketHandler
}

// Deps are the cross-cutting collaborators: session validation for the
// protected routes, the payment gate on the paid ones, and the optional
// rate limiter and WebSocket hub. Gate must be non-nil; a disabled gate
// passes requests through.
type Deps struct {
	Sessions middleware.SessionValidator
	Gate     *payment.Gate
	Limiter  domain.RateLimiter
	Hub      *ws.Hub
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("POST /api/auth/nonce", handlers.Auth.IssueNonce)
	mux.HandleFunc("POST /api/auth/verify", handlers.Auth.Verify)
	mux.HandleFunc("POST /api/auth/logout", handlers.Auth.Logout)
	mux.HandleFunc("GET /api/markets/{address}", handlers.Markets.Get)

	// Session-protected endpoints. Query and market creation additionally
	// pass the payment gate, priced by the features in the request body.
	authed := middleware.RequireSession(deps.Sessions)

	mux.Handle("POST /api/queries",
		authed(deps.Gate.Require(queryFeatures, http.HandlerFunc(handlers.Queries.Create))))
	mux.Handle("GET /api/queries", authed(http.HandlerFunc(handlers.Queries.List)))
	mux.Handle("GET /api/queries/{id}", authed(http.HandlerFunc(handlers.Queries.Get)))
	mux.Handle("DELETE /api/queries/{id}", authed(http.HandlerFunc(handlers.Queries.Delete)))
	mux.Handle("POST /api/queries/{id}/run", authed(http.HandlerFunc(handlers.Queries.Run)))

	mux.Handle("POST /api/markets",
		authed(deps.Gate.Require(marketFeatures, http.HandlerFunc(handlers.Markets.Create))))
	mux.Handle("GET /api/markets", authed(http.HandlerFunc(handlers.Markets.List)))

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	// Middleware chain, outermost first: CORS, request logging, rate limit.
	var h http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// queryFeatures prices a query submission from its body. The body is read
// and restored so the handler can decode it again.
func queryFeatures(r *http.Request) payment.Features {
	var body struct {
		ScheduledAt *time.Time `json:"scheduled_at"`
		NotifyEmail string     `json:"notify_email"`
	}
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return payment.Features{}
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	if err := json.Unmarshal(buf, &body); err != nil {
		return payment.Features{}
	}
	return payment.Features{
		Scheduled:   body.ScheduledAt != nil,
		NotifyEmail: body.NotifyEmail != "",
	}
}

// marketFeatures prices a market deployment: base plus the market surcharge,
// and scheduling since resolution always runs at a future date.
func marketFeatures(r *http.Request) payment.Features {
	return payment.Features{Scheduled: true, Market: true}
}
