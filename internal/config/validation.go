package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// finalize applies derived defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}

	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	if c.Provider.KeyPrefix == "" {
		switch c.Provider.Name {
		case "stripe":
			c.Provider.KeyPrefix = "stripe"
		default:
			c.Provider.KeyPrefix = "mp"
		}
	}
	if c.Validation.AmountTolerance == "" {
		c.Validation.AmountTolerance = "0.01"
	}
	if c.Storage.TableName == "" {
		c.Storage.TableName = "payments"
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Provider.Name {
	case "mercadopago":
		if c.Provider.AccessToken == "" {
			errs = append(errs, "provider.access_token is required for mercadopago")
		}
		if _, err := url.ParseRequestURI(c.Provider.BaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("provider.base_url invalid: %v", err))
		}
		if c.Provider.WebhookSecret == "" && !c.Provider.SkipSignatureVerification {
			errs = append(errs, "provider.webhook_secret is required unless provider.skip_signature_verification is set")
		}
	case "stripe":
		if c.Stripe.SecretKey == "" {
			errs = append(errs, "stripe.secret_key is required when provider.name is stripe")
		}
		if c.Stripe.WebhookSecret == "" && !c.Provider.SkipSignatureVerification {
			errs = append(errs, "stripe.webhook_secret is required unless provider.skip_signature_verification is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("provider.name %q must be mercadopago or stripe", c.Provider.Name))
	}
	if c.Provider.Timeout.Duration <= 0 {
		errs = append(errs, "provider.timeout must be positive")
	}

	if c.RateLimit.WebhookLimit <= 0 || c.RateLimit.WebhookWindow.Duration <= 0 {
		errs = append(errs, "rate_limit.webhook_limit and rate_limit.webhook_window must be positive")
	}
	if c.RateLimit.CreatePerUser <= 0 || c.RateLimit.CreatePerUserWind.Duration <= 0 {
		errs = append(errs, "rate_limit.create_per_user_limit and rate_limit.create_per_user_window must be positive")
	}

	if c.Idempotency.PaymentTTL.Duration <= 0 {
		errs = append(errs, "idempotency.payment_ttl must be positive")
	}
	if c.Idempotency.WebhookTTL.Duration <= 0 {
		errs = append(errs, "idempotency.webhook_ttl must be positive")
	}

	needsRedis := false
	switch c.RateLimit.Backend {
	case "", "memory":
	case "redis":
		needsRedis = true
	default:
		errs = append(errs, fmt.Sprintf("rate_limit.backend %q must be memory or redis", c.RateLimit.Backend))
	}
	switch c.Idempotency.Backend {
	case "", "memory":
	case "redis":
		needsRedis = true
	default:
		errs = append(errs, fmt.Sprintf("idempotency.backend %q must be memory or redis", c.Idempotency.Backend))
	}
	if needsRedis && c.Redis.URL == "" {
		errs = append(errs, "redis.url is required when a redis backend is selected")
	}

	switch c.Storage.Backend {
	case "", "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required for the postgres backend")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required for the mongodb backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q must be memory, postgres or mongodb", c.Storage.Backend))
	}

	if tol, err := decimal.NewFromString(c.Validation.AmountTolerance); err != nil {
		errs = append(errs, fmt.Sprintf("validation.amount_tolerance %q is not a decimal", c.Validation.AmountTolerance))
	} else if tol.IsNegative() {
		errs = append(errs, "validation.amount_tolerance must not be negative")
	}
	if len(c.Validation.CallbackAllowedHosts) == 0 {
		errs = append(errs, "validation.callback_allowed_hosts must list at least one host")
	}

	if c.Callbacks.UpdateURL != "" {
		if _, err := url.ParseRequestURI(c.Callbacks.UpdateURL); err != nil {
			errs = append(errs, fmt.Sprintf("callbacks.update_url invalid: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings, filling unset values with defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
