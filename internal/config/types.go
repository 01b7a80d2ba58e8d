package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses Go-style duration strings, or bare numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err == nil {
		d.Duration = parsed
		return nil
	}
	if secs, convErr := time.ParseDuration(raw + "s"); convErr == nil {
		d.Duration = secs
		return nil
	}
	return fmt.Errorf("invalid duration value %q: %w", raw, err)
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application configuration aggregated from file and environment variables.
type Config struct {
	Environment    string               `yaml:"environment"` // "production" enforces https callback URLs
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Provider       ProviderConfig       `yaml:"provider"`
	Stripe         StripeConfig         `yaml:"stripe"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	Redis          RedisConfig          `yaml:"redis"`
	Storage        StorageConfig        `yaml:"storage"`
	Validation     ValidationConfig     `yaml:"validation"`
	Sanitizer      SanitizerConfig      `yaml:"sanitizer"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
}

// IsProduction reports whether the deployment runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Bearer key for /metrics (empty disables protection)
	MaxBodyBytes       int64    `yaml:"max_body_bytes"`        // Webhook and API body cap (default: 1 MiB)
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProviderConfig selects and configures the payment provider integration.
type ProviderConfig struct {
	Name                      string   `yaml:"name"`       // mercadopago | stripe
	KeyPrefix                 string   `yaml:"key_prefix"` // Webhook dedup key prefix (default: "mp", or "stripe")
	AccessToken               string   `yaml:"access_token"`
	BaseURL                   string   `yaml:"base_url"`
	WebhookSecret             string   `yaml:"webhook_secret"`
	SkipSignatureVerification bool     `yaml:"skip_signature_verification"` // Must be set explicitly to run without a secret
	SignatureMaxSkew          Duration `yaml:"signature_max_skew"`          // 0 disables the timestamp bound
	Timeout                   Duration `yaml:"timeout"`                     // Bound on each provider call
}

// StripeConfig holds Stripe integration configuration.
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
}

// RateLimitConfig holds the fixed-window limits.
type RateLimitConfig struct {
	Backend           string   `yaml:"backend"` // memory | redis
	WebhookLimit      int      `yaml:"webhook_limit"`
	WebhookWindow     Duration `yaml:"webhook_window"`
	CreatePerUser     int      `yaml:"create_per_user_limit"`
	CreatePerUserWind Duration `yaml:"create_per_user_window"`
	PerIPEnabled      bool     `yaml:"per_ip_enabled"`
	PerIPLimit        int      `yaml:"per_ip_limit"`
	PerIPWindow       Duration `yaml:"per_ip_window"`
}

// IdempotencyConfig holds the result cache configuration.
type IdempotencyConfig struct {
	Backend    string   `yaml:"backend"`     // memory | redis
	PaymentTTL Duration `yaml:"payment_ttl"` // Payment creation keys (default: 24h)
	WebhookTTL Duration `yaml:"webhook_ttl"` // Webhook dedup keys (default: 48h)
	MaxEntries int      `yaml:"max_entries"` // Memory backend LRU bound
	ClaimTTL   Duration `yaml:"claim_ttl"`   // Cross-process in-flight claim lifetime
}

// RedisConfig holds the shared redis connection.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// StorageConfig selects the Payment Record Store backend.
type StorageConfig struct {
	Backend         string             `yaml:"backend"` // memory | postgres | mongodb
	PostgresURL     string             `yaml:"postgres_url"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
	MongoDBURL      string             `yaml:"mongodb_url"`
	MongoDBDatabase string             `yaml:"mongodb_database"`
	TableName       string             `yaml:"table_name"` // Table or collection name (default: "payments")
}

// PostgresPoolConfig holds connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// ValidationConfig holds amount and callback URL guards.
type ValidationConfig struct {
	AmountTolerance      string   `yaml:"amount_tolerance"`       // Decimal string (default: "0.01")
	CallbackAllowedHosts []string `yaml:"callback_allowed_hosts"` // Exact hosts or "*.domain" wildcards
}

// SanitizerConfig bounds metadata accepted on payment creation.
type SanitizerConfig struct {
	MaxStringLength int `yaml:"max_string_length"`
	MaxDepth        int `yaml:"max_depth"`
	MaxKeys         int `yaml:"max_keys"`
}

// CircuitBreakerConfig holds circuit breaker configuration for provider calls.
type CircuitBreakerConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	Provider BreakerServiceConfig `yaml:"provider"`
	Callback BreakerServiceConfig `yaml:"callback"`
}

// BreakerServiceConfig configures a single breaker.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// CallbacksConfig configures the optional update forwarder.
type CallbacksConfig struct {
	UpdateURL string            `yaml:"update_url"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   Duration          `yaml:"timeout"`
}
