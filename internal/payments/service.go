// Package payments runs the guarded payment creation and webhook ingestion flows.
package payments

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/payguard/internal/callbacks"
	"github.com/CedrosPay/payguard/internal/config"
	"github.com/CedrosPay/payguard/internal/idempotency"
	"github.com/CedrosPay/payguard/internal/metrics"
	"github.com/CedrosPay/payguard/internal/money"
	"github.com/CedrosPay/payguard/internal/provider"
	"github.com/CedrosPay/payguard/internal/ratelimit"
	"github.com/CedrosPay/payguard/internal/sanitize"
	"github.com/CedrosPay/payguard/internal/storage"
	"github.com/CedrosPay/payguard/internal/webhook"
)

// Settings are the tunable limits of the service.
type Settings struct {
	KeyPrefix string

	WebhookLimit  int
	WebhookWindow time.Duration
	CreateLimit   int
	CreateWindow  time.Duration

	PaymentTTL time.Duration
	WebhookTTL time.Duration

	ProviderTimeout time.Duration
	Tolerance       decimal.Decimal

	CallbackAllowedHosts   []string
	AllowInsecureCallbacks bool

	// SkipSignatureVerification must be set explicitly to process unsigned deliveries.
	SkipSignatureVerification bool

	// DedupOnEventID folds the notification id into the dedup key. Providers that emit
	// several lifecycle events per payment and resend the same event id on retry need it.
	DedupOnEventID bool
}

// DefaultSettings returns the limits used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		KeyPrefix:       "mp",
		WebhookLimit:    100,
		WebhookWindow:   time.Minute,
		CreateLimit:     10,
		CreateWindow:    time.Minute,
		PaymentTTL:      24 * time.Hour,
		WebhookTTL:      48 * time.Hour,
		ProviderTimeout: 10 * time.Second,
		Tolerance:       money.DefaultTolerance,
	}
}

// SettingsFromConfig maps the loaded configuration onto Settings.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	tol, err := money.ParseTolerance(cfg.Validation.AmountTolerance)
	if err != nil {
		return Settings{}, fmt.Errorf("payments: %w", err)
	}
	return Settings{
		KeyPrefix:                 cfg.Provider.KeyPrefix,
		WebhookLimit:              cfg.RateLimit.WebhookLimit,
		WebhookWindow:             cfg.RateLimit.WebhookWindow.Duration,
		CreateLimit:               cfg.RateLimit.CreatePerUser,
		CreateWindow:              cfg.RateLimit.CreatePerUserWind.Duration,
		PaymentTTL:                cfg.Idempotency.PaymentTTL.Duration,
		WebhookTTL:                cfg.Idempotency.WebhookTTL.Duration,
		ProviderTimeout:           cfg.Provider.Timeout.Duration,
		Tolerance:                 tol,
		CallbackAllowedHosts:      cfg.Validation.CallbackAllowedHosts,
		AllowInsecureCallbacks:    !cfg.IsProduction(),
		SkipSignatureVerification: cfg.Provider.SkipSignatureVerification,
		DedupOnEventID:            cfg.Provider.Name == "stripe",
	}, nil
}

// Service runs payment creation and webhook processing behind the guards.
type Service struct {
	settings  Settings
	provider  provider.Client
	store     storage.PaymentStore
	limiter   ratelimit.Limiter
	guard     *idempotency.Guard
	verifier  webhook.Verifier
	notifier  callbacks.Notifier
	sanitizer *sanitize.Sanitizer
	validate  *validator.Validate
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Option configures optional collaborators.
type Option func(*Service)

// WithLimiter replaces the in-memory fixed-window limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithGuard replaces the in-memory idempotency guard.
func WithGuard(g *idempotency.Guard) Option {
	return func(s *Service) { s.guard = g }
}

// WithVerifier sets the webhook signature verifier.
func WithVerifier(v webhook.Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithNotifier sets the update callback run after a webhook is persisted.
func WithNotifier(n callbacks.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithSanitizer replaces the default metadata sanitizer.
func WithSanitizer(z *sanitize.Sanitizer) Option {
	return func(s *Service) { s.sanitizer = z }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the fallback logger. Request-scoped loggers from the context take precedence.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires the service. Unset collaborators fall back to in-process defaults.
func NewService(settings Settings, client provider.Client, store storage.PaymentStore, opts ...Option) *Service {
	s := &Service{
		settings: settings,
		provider: client,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.limiter == nil {
		s.limiter = ratelimit.NewMemoryLimiter()
	}
	if s.guard == nil {
		s.guard = idempotency.NewGuard(idempotency.NewMemoryStore(), idempotency.WithLogger(s.logger))
	}
	if s.notifier == nil {
		s.notifier = callbacks.NoopNotifier{}
	}
	if s.sanitizer == nil {
		s.sanitizer = sanitize.New(sanitize.Config{})
	}
	if s.settings.KeyPrefix == "" {
		s.settings.KeyPrefix = "mp"
	}
	if s.settings.ProviderTimeout <= 0 {
		s.settings.ProviderTimeout = 10 * time.Second
	}
	return s
}
