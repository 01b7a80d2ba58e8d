package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	apierrors "github.com/CedrosPay/payguard/internal/errors"
	"github.com/CedrosPay/payguard/internal/metrics"
)

// Scopes used as metric labels and limiter key prefixes.
const (
	ScopeWebhook = "webhook"
	ScopeCreate  = "create"
	ScopePerIP   = "per_ip"
)

// WebhookKey is the single global key shared by every inbound webhook.
const WebhookKey = "webhook:global"

// CreateKey returns the per-user key for payment creation.
func CreateKey(userID string) string {
	return "create:" + userID
}

// HTTPConfig holds the outer per-IP limiter configuration.
type HTTPConfig struct {
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// DefaultHTTPConfig returns a 120 req/min per-IP limit.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  time.Minute,
	}
}

// IPLimiter creates a per-IP rate limiter middleware for the API routes.
// Webhook routes are mounted outside it: they acknowledge every delivery and rely on
// the global webhook limiter instead.
func IPLimiter(cfg HTTPConfig) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	windowSeconds := int(cfg.PerIPWindow.Seconds())
	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			cfg.Metrics.ObserveRateLimit(ScopePerIP)
			w.Header().Set("Retry-After", strconv.Itoa(windowSeconds))
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeRateLimited,
				"IP rate limit exceeded. Please try again later.",
				"retryAfterSeconds", windowSeconds)
		}),
	)
}
