package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/payguard/internal/circuitbreaker"
	"github.com/CedrosPay/payguard/internal/config"
	"github.com/CedrosPay/payguard/internal/logger"
	"github.com/CedrosPay/payguard/internal/metrics"
	"github.com/CedrosPay/payguard/internal/payments"
	"github.com/CedrosPay/payguard/internal/ratelimit"
)

var serverStartTime = time.Now()

// Deps are the collaborators the handlers need.
type Deps struct {
	Payments *payments.Service
	Breakers *circuitbreaker.Manager
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // Source for /metrics (default: prometheus.DefaultGatherer)
	Logger   zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	payments *payments.Service
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the HTTP server with a configured router.
func New(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()
	ConfigureRouter(router, cfg, deps)
	return NewServer(cfg, router)
}

// NewServer serves an already configured handler with the configured timeouts.
func NewServer(cfg *config.Config, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      handler,
		},
	}
}

// ConfigureRouter attaches payguard routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps) {
	if router == nil {
		return
	}

	h := &handlers{
		cfg:      cfg,
		payments: deps.Payments,
		breakers: deps.Breakers,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Idempotency-Key", "X-User-ID"},
			ExposedHeaders:   []string{"X-Idempotency-Replay", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(middleware.RequestID)
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	prefix := cfg.Server.RoutePrefix

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", h.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).
			Handle(prefix+"/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	})

	// Webhooks sit outside the per-IP limiter: every delivery is acknowledged and the
	// global webhook limiter inside the pipeline does the throttling.
	router.Group(func(r chi.Router) {
		r.Use(limitBody(cfg.Server.MaxBodyBytes))
		switch cfg.Provider.Name {
		case "stripe":
			r.Post(prefix+"/webhooks/stripe", h.stripeWebhook)
		default:
			r.Post(prefix+"/webhooks/mercadopago", h.mercadoPagoWebhook)
		}
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Provider.Timeout.Duration + 5*time.Second))
		r.Use(ratelimit.IPLimiter(ratelimit.HTTPConfig{
			PerIPEnabled: cfg.RateLimit.PerIPEnabled,
			PerIPLimit:   cfg.RateLimit.PerIPLimit,
			PerIPWindow:  cfg.RateLimit.PerIPWindow.Duration,
			Metrics:      deps.Metrics,
		}))
		r.Use(limitBody(cfg.Server.MaxBodyBytes))
		r.Post(prefix+"/payments/v1/preferences", h.createPreference)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
