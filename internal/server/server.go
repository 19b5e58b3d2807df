// Package server exposes the aggregator's HTTP API, Prometheus metrics and
// the WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fpidot/pm-aggregator/internal/domain"
	"github.com/fpidot/pm-aggregator/internal/server/handler"
	"github.com/fpidot/pm-aggregator/internal/server/middleware"
	"github.com/fpidot/pm-aggregator/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminKey    string // empty disables admin auth
	// Inbound SMS webhook limit per client IP.
	WebhookLimit  int
	WebhookWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Contracts   *handler.ContractHandler
	Settings    *handler.SettingsHandler
	Subscribers *handler.SubscriberHandler
	SMS         *handler.SMSHandler
	Pipeline    *handler.PipelineHandler
}

// Deps are optional collaborators; nil values disable the related route
// or middleware.
type Deps struct {
	Hub      *ws.Hub
	Gatherer prometheus.Gatherer
	Limiter  domain.RateLimiter
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging and CORS.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := routes(cfg, handlers, deps, logger)

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Discovery triggers run a full pass inline.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func routes(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.AdminAuth(cfg.AdminKey)(h)
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Contracts: reads are public, actions are operator-only.
	c := handlers.Contracts
	mux.HandleFunc("GET /api/contracts", c.List)
	mux.HandleFunc("GET /api/contracts/{market}/{id}", c.Get)
	for _, action := range []string{"follow", "unfollow", "display", "hide"} {
		mux.Handle("POST /api/contracts/{market}/{id}/"+action, admin(c.Action(action)))
	}
	mux.Handle("PUT /api/contracts/{market}/{id}/category", admin(c.SetCategory))

	mux.HandleFunc("GET /api/settings", handlers.Settings.Get)
	mux.Handle("PUT /api/settings", admin(handlers.Settings.Replace))
	mux.Handle("PUT /api/settings/thresholds/{category}", admin(handlers.Settings.SetThreshold))

	// Registration is public; everything else about subscribers is not.
	mux.Handle("GET /api/subscribers", admin(handlers.Subscribers.List))
	mux.HandleFunc("POST /api/subscribers", handlers.Subscribers.Create)
	mux.Handle("PUT /api/subscribers/{phone}", admin(handlers.Subscribers.Update))
	mux.Handle("DELETE /api/subscribers/{phone}", admin(handlers.Subscribers.Delete))

	mux.Handle("POST /api/sms/inbound",
		middleware.RateLimit(deps.Limiter, "sms_inbound", cfg.WebhookLimit, cfg.WebhookWindow, logger)(
			http.HandlerFunc(handlers.SMS.Inbound)))

	mux.Handle("POST /api/discovery/trigger", admin(handlers.Pipeline.TriggerDiscovery))
	mux.Handle("POST /api/refresh/trigger", admin(handlers.Pipeline.TriggerRefresh))
	mux.Handle("POST /api/alerts/daily-update", admin(handlers.Pipeline.TriggerDaily))

	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}
	return mux
}

// Handler exposes the fully wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

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
