package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for payguard.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Webhook pipeline metrics
	WebhooksTotal          *prometheus.CounterVec
	WebhookRejectionsTotal *prometheus.CounterVec
	WebhookDuration        prometheus.Histogram

	// Guard metrics
	RateLimitHitsTotal       *prometheus.CounterVec
	IdempotencyReplaysTotal  *prometheus.CounterVec
	CallbackURLRejectedTotal prometheus.Counter

	// Provider metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	// Payment creation metrics
	PaymentsCreatedTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_webhooks_total",
				Help: "Inbound webhook notifications by final pipeline state",
			},
			[]string{"outcome"},
		),
		WebhookRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_webhook_rejections_total",
				Help: "Webhook notifications rejected or failed, by error code",
			},
			[]string{"reason"},
		),
		WebhookDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payguard_webhook_duration_seconds",
				Help:    "Time spent processing one webhook notification",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_rate_limit_hits_total",
				Help: "Attempts rejected by a rate limiter",
			},
			[]string{"scope"},
		),
		IdempotencyReplaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_idempotency_replays_total",
				Help: "Requests answered from the idempotency cache",
			},
			[]string{"scope"},
		),
		CallbackURLRejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payguard_callback_url_rejected_total",
				Help: "Payment creations refused because a redirect URL was not allow-listed",
			},
		),

		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_provider_calls_total",
				Help: "Calls to the payment provider API",
			},
			[]string{"operation", "status"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payguard_provider_call_duration_seconds",
				Help:    "Payment provider API call latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),

		PaymentsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payguard_payments_created_total",
				Help: "Payment creation requests by result",
			},
			[]string{"status"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payguard_db_query_duration_seconds",
				Help:    "Payment record store query duration",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveWebhook records one processed notification.
func (m *Metrics) ObserveWebhook(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(outcome).Inc()
	m.WebhookDuration.Observe(duration.Seconds())
}

// ObserveWebhookRejection records the error code that ended a notification.
func (m *Metrics) ObserveWebhookRejection(reason string) {
	if m == nil {
		return
	}
	m.WebhookRejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(scope string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(scope).Inc()
}

// ObserveIdempotencyReplay records a cached answer.
func (m *Metrics) ObserveIdempotencyReplay(scope string) {
	if m == nil {
		return
	}
	m.IdempotencyReplaysTotal.WithLabelValues(scope).Inc()
}

// ObserveCallbackURLRejected records a refused redirect URL.
func (m *Metrics) ObserveCallbackURLRejected() {
	if m == nil {
		return
	}
	m.CallbackURLRejectedTotal.Inc()
}

// ObserveProviderCall records a provider API call and its outcome.
func (m *Metrics) ObserveProviderCall(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderCallsTotal.WithLabelValues(operation, status).Inc()
	m.ProviderCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObservePaymentCreated records a payment creation result ("created", "replayed", or an error code).
func (m *Metrics) ObservePaymentCreated(status string) {
	if m == nil {
		return
	}
	m.PaymentsCreatedTotal.WithLabelValues(status).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
