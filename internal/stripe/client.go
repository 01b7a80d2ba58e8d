// Package stripe adapts Stripe Checkout and PaymentIntents to the provider contract.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"github.com/CedrosPay/payguard/internal/circuitbreaker"
	"github.com/CedrosPay/payguard/internal/config"
	apierrors "github.com/CedrosPay/payguard/internal/errors"
	"github.com/CedrosPay/payguard/internal/httputil"
	"github.com/CedrosPay/payguard/internal/metrics"
	"github.com/CedrosPay/payguard/internal/provider"
)

// MetadataExternalReference links Stripe objects back to the local payment record.
const MetadataExternalReference = "external_reference"

// Client wraps the stripe-go API client.
type Client struct {
	cfg      config.StripeConfig
	api      *client.API
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

var _ provider.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL  string
	timeout  time.Duration
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// WithBaseURL points the client at another API host, such as a test server.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = u }
}

// WithTimeout bounds each HTTP exchange.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithBreakers routes calls through the provider circuit breaker.
func WithBreakers(m *circuitbreaker.Manager) Option {
	return func(o *clientOptions) { o.breakers = m }
}

// WithMetrics records call counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// NewClient sets up a stripe-go client with the configured secret key.
// Network retries are disabled; callers decide whether to retry.
func NewClient(cfg config.StripeConfig, opts ...Option) *Client {
	o := clientOptions{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        httputil.NewClient(o.timeout),
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelError},
	}
	if o.baseURL != "" {
		backendCfg.URL = stripeapi.String(o.baseURL)
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg),
		Connect: stripeapi.GetBackend(stripeapi.ConnectBackend),
		Uploads: stripeapi.GetBackend(stripeapi.UploadsBackend),
	})

	return &Client{
		cfg:      cfg,
		api:      api,
		breakers: o.breakers,
		metrics:  o.metrics,
	}
}

// CreatePreference creates a Checkout session. The external reference is stored in
// both session and payment intent metadata so payment_intent events can be matched.
func (c *Client) CreatePreference(ctx context.Context, req provider.PreferenceRequest) (provider.Preference, error) {
	if len(req.Items) == 0 {
		return provider.Preference{}, apierrors.New(apierrors.ErrCodeValidationFailed, "at least one item is required")
	}

	metadata := flattenMetadata(req.Metadata)
	metadata[MetadataExternalReference] = req.ExternalReference

	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL:        stripeapi.String(firstNonEmpty(req.BackURLs.Success, c.cfg.SuccessURL)),
		CancelURL:         stripeapi.String(firstNonEmpty(req.BackURLs.Failure, req.BackURLs.Pending, c.cfg.CancelURL)),
		ClientReferenceID: stripeapi.String(req.ExternalReference),
		PaymentIntentData: &stripeapi.CheckoutSessionPaymentIntentDataParams{},
	}
	params.PaymentIntentData.AddMetadata(MetadataExternalReference, req.ExternalReference)
	params.Metadata = metadata
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.PayerEmail != "" {
		params.CustomerEmail = stripeapi.String(req.PayerEmail)
	}

	for _, item := range req.Items {
		currency := strings.ToLower(item.CurrencyID)
		params.LineItems = append(params.LineItems, &stripeapi.CheckoutSessionLineItemParams{
			Quantity: stripeapi.Int64(int64(item.Quantity)),
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency: stripeapi.String(currency),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String(item.Title),
				},
				UnitAmount: stripeapi.Int64(toMinorUnits(item.UnitPrice, currency)),
			},
		})
	}

	var s *stripeapi.CheckoutSession
	err := c.call("create_preference", func() error {
		var err error
		s, err = c.api.CheckoutSessions.New(params)
		return err
	})
	if err != nil {
		return provider.Preference{}, err
	}
	return provider.Preference{ID: s.ID, CheckoutURL: s.URL}, nil
}

// GetPayment fetches a PaymentIntent and maps it onto the provider payment shape.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (provider.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return provider.Payment{}, apierrors.New(apierrors.ErrCodeValidationFailed, "payment id required")
	}

	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx

	var pi *stripeapi.PaymentIntent
	err := c.call("get_payment", func() error {
		var err error
		pi, err = c.api.PaymentIntents.Get(paymentID, params)
		return err
	})
	if err != nil {
		return provider.Payment{}, err
	}
	return toPayment(pi), nil
}

func (c *Client) call(op string, fn func() error) error {
	start := time.Now()
	err := c.breakers.Run(circuitbreaker.ServiceProvider, func() error {
		return classify(fn())
	})
	if circuitbreaker.IsOpen(err) {
		err = apierrors.Wrap(apierrors.ErrCodeProviderUnavailable, err, "payment provider circuit open")
	}
	c.metrics.ObserveProviderCall(op, time.Since(start), err)
	return err
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var serr *stripeapi.Error
	if !errors.As(err, &serr) {
		return apierrors.Wrap(apierrors.ErrCodeProviderUnavailable, err, "payment provider unreachable")
	}
	cause := fmt.Errorf("stripe: status %d: %s", serr.HTTPStatusCode, serr.Msg)
	switch {
	case serr.HTTPStatusCode == http.StatusNotFound:
		return apierrors.Wrap(apierrors.ErrCodeNotFound, cause, "payment not found at provider")
	case serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= 500:
		return apierrors.Wrap(apierrors.ErrCodeProviderUnavailable, cause, "payment provider unavailable")
	case serr.HTTPStatusCode == http.StatusBadRequest:
		return apierrors.Wrap(apierrors.ErrCodeValidationFailed, cause, "payment provider rejected the request")
	default:
		return apierrors.Wrap(apierrors.ErrCodeInternalError, cause, "payment provider error")
	}
}

func toPayment(pi *stripeapi.PaymentIntent) provider.Payment {
	currency := string(pi.Currency)
	p := provider.Payment{
		ID:           pi.ID,
		Status:       mapStatus(pi.Status),
		StatusDetail: string(pi.Status),
		Amount:       fromMinorUnits(pi.Amount, currency),
		Currency:     strings.ToUpper(currency),
	}
	if pi.Metadata != nil {
		p.ExternalReference = pi.Metadata[MetadataExternalReference]
	}
	if len(pi.PaymentMethodTypes) > 0 {
		p.PaymentTypeID = pi.PaymentMethodTypes[0]
		p.PaymentMethodID = pi.PaymentMethodTypes[0]
	}
	if pi.PaymentMethod != nil && pi.PaymentMethod.ID != "" {
		p.PaymentMethodID = pi.PaymentMethod.ID
	}
	return p
}

// mapStatus translates PaymentIntent states into the status vocabulary stored on records.
func mapStatus(s stripeapi.PaymentIntentStatus) string {
	switch s {
	case stripeapi.PaymentIntentStatusSucceeded:
		return "approved"
	case stripeapi.PaymentIntentStatusProcessing:
		return "in_process"
	case stripeapi.PaymentIntentStatusCanceled:
		return "cancelled"
	case stripeapi.PaymentIntentStatusRequiresCapture:
		return "authorized"
	default:
		return "pending"
	}
}

// zeroDecimal lists currencies whose Stripe amounts are already in major units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimal[strings.ToLower(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

// flattenMetadata renders sanitized metadata as Stripe's string map.
// Nested values are JSON encoded.
func flattenMetadata(m map[string]any) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(raw)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
