// Package payguard assembles the payment guard for embedding or standalone serving.
package payguard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/payguard/internal/auth"
	"github.com/CedrosPay/payguard/internal/callbacks"
	"github.com/CedrosPay/payguard/internal/circuitbreaker"
	"github.com/CedrosPay/payguard/internal/config"
	apierrors "github.com/CedrosPay/payguard/internal/errors"
	"github.com/CedrosPay/payguard/internal/httpserver"
	"github.com/CedrosPay/payguard/internal/idempotency"
	"github.com/CedrosPay/payguard/internal/lifecycle"
	"github.com/CedrosPay/payguard/internal/logger"
	"github.com/CedrosPay/payguard/internal/mercadopago"
	"github.com/CedrosPay/payguard/internal/metrics"
	"github.com/CedrosPay/payguard/internal/payments"
	"github.com/CedrosPay/payguard/internal/provider"
	"github.com/CedrosPay/payguard/internal/ratelimit"
	"github.com/CedrosPay/payguard/internal/sanitize"
	"github.com/CedrosPay/payguard/internal/storage"
	"github.com/CedrosPay/payguard/internal/stripe"
	"github.com/CedrosPay/payguard/internal/webhook"
)

// App wires the guard components.
type App struct {
	Config   *config.Config
	Store    storage.PaymentStore
	Provider provider.Client
	Payments *payments.Service
	Breakers *circuitbreaker.Manager
	Logger   zerolog.Logger

	router    chi.Router
	resources *lifecycle.Manager
	metrics   *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store    storage.PaymentStore
	provider provider.Client
	callback callbacks.Notifier
	router   chi.Router
	registry *prometheus.Registry
	logger   *zerolog.Logger
}

// WithPaymentStore sets the Payment Record Store instead of the configured backend.
func WithPaymentStore(store storage.PaymentStore) Option {
	return func(o *options) { o.store = store }
}

// WithProvider sets the payment provider client instead of the configured one.
func WithProvider(client provider.Client) Option {
	return func(o *options) { o.provider = client }
}

// WithUpdateCallback runs fn after each webhook-driven update is persisted.
// Its errors and panics are logged and never reach the provider.
func WithUpdateCallback(fn func(ctx context.Context, update callbacks.PaymentUpdate) error) Option {
	return func(o *options) {
		if fn != nil {
			o.callback = callbacks.NotifierFunc(fn)
		}
	}
}

// WithRouter registers routes on an existing router.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithRegistry registers metrics on reg and serves them from /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// NewApp assembles the guard. Resources opened here are released by Close.
func NewApp(cfg *config.Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("payguard: config required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "payguard",
		Environment: cfg.Environment,
	})
	if o.logger != nil {
		appLogger = *o.logger
	}

	resources := lifecycle.NewManager(appLogger)
	defer func() {
		if err != nil {
			if closeErr := resources.Close(); closeErr != nil {
				appLogger.Warn().Err(closeErr).Msg("payguard: release resources after failed start")
			}
		}
	}()

	app := &App{
		Config:    cfg,
		Logger:    appLogger,
		resources: resources,
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if o.registry != nil {
		registerer, gatherer = o.registry, o.registry
	}
	app.metrics = metrics.New(registerer)

	app.Breakers = circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, appLogger, breakerSuccess)

	var rdb redis.UniversalClient
	if usesRedis(cfg) {
		rdb, err = openRedis(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		app.resources.Register("redis", rdb)
	}

	if o.store != nil {
		app.Store = o.store
	} else {
		app.Store, err = openStore(cfg.Storage, app.metrics)
		if err != nil {
			return nil, fmt.Errorf("payguard: open payment store: %w", err)
		}
		app.resources.Register("payment-store", app.Store)
		if cfg.Storage.Backend == "" || cfg.Storage.Backend == "memory" {
			appLogger.Warn().Msg("payguard: defaulting to in-memory payment store, do not use this backend in production")
		}
	}

	app.Provider = o.provider
	if app.Provider == nil {
		app.Provider = newProvider(cfg, app.Breakers, app.metrics)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Backend == "redis" {
		limiter = ratelimit.NewRedisLimiter(rdb, appLogger)
	} else {
		mem := ratelimit.NewMemoryLimiter()
		app.resources.RegisterFunc("rate-limit-pruner", startPruner(mem, longestWindow(cfg)))
		limiter = mem
	}

	var store idempotency.Store
	if cfg.Idempotency.Backend == "redis" {
		store = idempotency.NewRedisStore(rdb, appLogger)
	} else {
		mem := idempotency.NewMemoryStore(idempotency.WithMaxSize(cfg.Idempotency.MaxEntries))
		app.resources.Register("idempotency-store", mem)
		store = mem
	}
	guard := idempotency.NewGuard(store,
		idempotency.WithClaimTTL(cfg.Idempotency.ClaimTTL.Duration),
		idempotency.WithLogger(appLogger))

	settings, err := payments.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	forwarder := callbacks.NewForwarder(cfg.Callbacks,
		callbacks.WithLogger(appLogger),
		callbacks.WithBreakers(app.Breakers))

	app.Payments = payments.NewService(settings, app.Provider, app.Store,
		payments.WithLimiter(limiter),
		payments.WithGuard(guard),
		payments.WithVerifier(newVerifier(cfg)),
		payments.WithNotifier(callbacks.Multi(o.callback, forwarder)),
		payments.WithSanitizer(sanitize.New(sanitize.Config{
			MaxStringLength: cfg.Sanitizer.MaxStringLength,
			MaxDepth:        cfg.Sanitizer.MaxDepth,
			MaxKeys:         cfg.Sanitizer.MaxKeys,
		})),
		payments.WithMetrics(app.metrics),
		payments.WithLogger(appLogger),
	)

	app.router = o.router
	if app.router == nil {
		app.router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(app.router, cfg, httpserver.Deps{
		Payments: app.Payments,
		Breakers: app.Breakers,
		Metrics:  app.metrics,
		Gatherer: gatherer,
		Logger:   appLogger,
	})

	return app, nil
}

// openStore builds the configured Payment Record Store.
var openStore = storage.NewStore

// breakerSuccess keeps definitive provider answers (not found, validation) from tripping the breaker.
func breakerSuccess(err error) bool {
	return err == nil || apierrors.CodeOf(err) != apierrors.ErrCodeProviderUnavailable
}

// startPruner drops expired limiter windows in the background and returns its stop func.
func startPruner(l *ratelimit.MemoryLimiter, window time.Duration) func() error {
	ticker := time.NewTicker(window)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Prune(window)
			case <-done:
				return
			}
		}
	}()
	return func() error {
		close(done)
		return nil
	}
}

func longestWindow(cfg *config.Config) time.Duration {
	window := time.Minute
	for _, d := range []time.Duration{
		cfg.RateLimit.WebhookWindow.Duration,
		cfg.RateLimit.CreatePerUserWind.Duration,
	} {
		if d > window {
			window = d
		}
	}
	return window
}

func usesRedis(cfg *config.Config) bool {
	return cfg.RateLimit.Backend == "redis" || cfg.Idempotency.Backend == "redis"
}

func openRedis(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("payguard: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("payguard: ping redis: %w", err)
	}
	return client, nil
}

func newProvider(cfg *config.Config, breakers *circuitbreaker.Manager, m *metrics.Metrics) provider.Client {
	if cfg.Provider.Name == "stripe" {
		return stripe.NewClient(cfg.Stripe,
			stripe.WithTimeout(cfg.Provider.Timeout.Duration),
			stripe.WithBreakers(breakers),
			stripe.WithMetrics(m))
	}
	return mercadopago.NewClient(cfg.Provider.AccessToken, cfg.Provider.Timeout.Duration,
		mercadopago.WithBaseURL(cfg.Provider.BaseURL),
		mercadopago.WithBreakers(breakers),
		mercadopago.WithMetrics(m))
}

// newVerifier returns nil when no secret is configured; the service then rejects
// every delivery unless signature verification is explicitly skipped.
func newVerifier(cfg *config.Config) webhook.Verifier {
	if cfg.Provider.Name == "stripe" {
		if cfg.Stripe.WebhookSecret == "" {
			return nil
		}
		return stripe.NewWebhookVerifier(cfg.Stripe.WebhookSecret)
	}
	if cfg.Provider.WebhookSecret == "" {
		return nil
	}
	return auth.NewSignatureVerifier(cfg.Provider.WebhookSecret,
		auth.WithMaxSkew(cfg.Provider.SignatureMaxSkew.Duration))
}

// Router returns the chi router with payguard routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases resources owned by the app.
func (a *App) Close() error {
	return a.resources.Close()
}

// NewHandler constructs an App and returns its handler with a shutdown func.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for embedders.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
