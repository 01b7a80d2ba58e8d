package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the PAYGUARD_ prefix.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Environment, "PAYGUARD_ENVIRONMENT")

	// Server config
	setIfEnv(&c.Server.Address, "PAYGUARD_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "PAYGUARD_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "PAYGUARD_ADMIN_METRICS_API_KEY")
	setListIfEnv(&c.Server.CORSAllowedOrigins, "PAYGUARD_CORS_ALLOWED_ORIGINS")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	setIfEnv(&c.Logging.Level, "PAYGUARD_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "PAYGUARD_LOG_FORMAT")

	// Provider config
	setIfEnv(&c.Provider.Name, "PAYGUARD_PROVIDER_NAME")
	setIfEnv(&c.Provider.KeyPrefix, "PAYGUARD_PROVIDER_KEY_PREFIX")
	setIfEnv(&c.Provider.AccessToken, "PAYGUARD_PROVIDER_ACCESS_TOKEN")
	setIfEnv(&c.Provider.BaseURL, "PAYGUARD_PROVIDER_BASE_URL")
	setIfEnv(&c.Provider.WebhookSecret, "PAYGUARD_PROVIDER_WEBHOOK_SECRET")
	setBoolIfEnv(&c.Provider.SkipSignatureVerification, "PAYGUARD_PROVIDER_SKIP_SIGNATURE_VERIFICATION")
	setDurationIfEnv(&c.Provider.SignatureMaxSkew, "PAYGUARD_PROVIDER_SIGNATURE_MAX_SKEW")
	setDurationIfEnv(&c.Provider.Timeout, "PAYGUARD_PROVIDER_TIMEOUT")

	// Stripe config
	setIfEnv(&c.Stripe.SecretKey, "PAYGUARD_STRIPE_SECRET_KEY")
	setIfEnv(&c.Stripe.WebhookSecret, "PAYGUARD_STRIPE_WEBHOOK_SECRET")
	setIfEnv(&c.Stripe.SuccessURL, "PAYGUARD_STRIPE_SUCCESS_URL")
	setIfEnv(&c.Stripe.CancelURL, "PAYGUARD_STRIPE_CANCEL_URL")

	// Rate limit config
	setIfEnv(&c.RateLimit.Backend, "PAYGUARD_RATE_LIMIT_BACKEND")
	setIntIfEnv(&c.RateLimit.WebhookLimit, "PAYGUARD_RATE_LIMIT_WEBHOOK_LIMIT")
	setDurationIfEnv(&c.RateLimit.WebhookWindow, "PAYGUARD_RATE_LIMIT_WEBHOOK_WINDOW")
	setIntIfEnv(&c.RateLimit.CreatePerUser, "PAYGUARD_RATE_LIMIT_CREATE_PER_USER_LIMIT")
	setDurationIfEnv(&c.RateLimit.CreatePerUserWind, "PAYGUARD_RATE_LIMIT_CREATE_PER_USER_WINDOW")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "PAYGUARD_RATE_LIMIT_PER_IP_ENABLED")
	setIntIfEnv(&c.RateLimit.PerIPLimit, "PAYGUARD_RATE_LIMIT_PER_IP_LIMIT")
	setDurationIfEnv(&c.RateLimit.PerIPWindow, "PAYGUARD_RATE_LIMIT_PER_IP_WINDOW")

	// Idempotency config
	setIfEnv(&c.Idempotency.Backend, "PAYGUARD_IDEMPOTENCY_BACKEND")
	setDurationIfEnv(&c.Idempotency.PaymentTTL, "PAYGUARD_IDEMPOTENCY_PAYMENT_TTL")
	setDurationIfEnv(&c.Idempotency.WebhookTTL, "PAYGUARD_IDEMPOTENCY_WEBHOOK_TTL")
	setIntIfEnv(&c.Idempotency.MaxEntries, "PAYGUARD_IDEMPOTENCY_MAX_ENTRIES")

	setIfEnv(&c.Redis.URL, "PAYGUARD_REDIS_URL")

	// Storage config
	setIfEnv(&c.Storage.Backend, "PAYGUARD_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "PAYGUARD_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "PAYGUARD_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "PAYGUARD_MONGODB_DATABASE")

	// Validation config
	setIfEnv(&c.Validation.AmountTolerance, "PAYGUARD_AMOUNT_TOLERANCE")
	setListIfEnv(&c.Validation.CallbackAllowedHosts, "PAYGUARD_CALLBACK_ALLOWED_HOSTS")

	// Callbacks config
	setIfEnv(&c.Callbacks.UpdateURL, "PAYGUARD_CALLBACK_UPDATE_URL")
	setDurationIfEnv(&c.Callbacks.Timeout, "PAYGUARD_CALLBACK_TIMEOUT")
	c.applyCallbackHeaderOverrides()
}

// applyCallbackHeaderOverrides reads PAYGUARD_CALLBACK_HEADER_<NAME>=value pairs.
func (c *Config) applyCallbackHeaderOverrides() {
	const prefix = "PAYGUARD_CALLBACK_HEADER_"
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) || value == "" {
			continue
		}
		name := strings.ReplaceAll(strings.TrimPrefix(key, prefix), "_", "-")
		if name == "" {
			continue
		}
		if c.Callbacks.Headers == nil {
			c.Callbacks.Headers = make(map[string]string)
		}
		c.Callbacks.Headers[textproto.CanonicalMIMEHeaderKey(name)] = value
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean from an environment variable.
// Accepts "1" and any casing of "true" as true.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration from values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setListIfEnv splits a comma separated value, dropping empty items.
func setListIfEnv(target *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*target = out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
