// Package mercadopago is the REST adapter for the MercadoPago checkout and payments APIs.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/payguard/internal/circuitbreaker"
	apierrors "github.com/CedrosPay/payguard/internal/errors"
	"github.com/CedrosPay/payguard/internal/httputil"
	"github.com/CedrosPay/payguard/internal/metrics"
	"github.com/CedrosPay/payguard/internal/provider"
	"github.com/CedrosPay/payguard/internal/webhook"
)

// DefaultBaseURL is the production API host.
const DefaultBaseURL = "https://api.mercadopago.com"

const maxErrorBody = 4 << 10

// Client calls the MercadoPago API with a bearer access token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

var _ provider.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another host, such as a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithBreakers routes calls through the provider circuit breaker.
func WithBreakers(m *circuitbreaker.Manager) Option {
	return func(c *Client) {
		c.breakers = m
	}
}

// WithMetrics records call counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client. timeout bounds each HTTP exchange.
func NewClient(accessToken string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: httputil.NewClientWithHeaders(timeout, map[string]string{
			"Authorization": "Bearer " + accessToken,
			"Accept":        "application/json",
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type preferenceItem struct {
	ID          string      `json:"id,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Quantity    int         `json:"quantity"`
	UnitPrice   json.Number `json:"unit_price"`
	CurrencyID  string      `json:"currency_id,omitempty"`
}

type preferenceBody struct {
	Items             []preferenceItem  `json:"items"`
	BackURLs          provider.BackURLs `json:"back_urls,omitempty"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	ExternalReference string            `json:"external_reference"`
	Payer             *payer            `json:"payer,omitempty"`
}

type payer struct {
	Email string `json:"email"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type paymentResponse struct {
	ID                webhook.FlexString `json:"id"`
	ExternalReference string             `json:"external_reference"`
	Status            string             `json:"status"`
	StatusDetail      string             `json:"status_detail"`
	TransactionAmount json.Number        `json:"transaction_amount"`
	CurrencyID        string             `json:"currency_id"`
	PaymentMethodID   string             `json:"payment_method_id"`
	PaymentTypeID     string             `json:"payment_type_id"`
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

// CreatePreference creates a hosted checkout preference.
func (c *Client) CreatePreference(ctx context.Context, req provider.PreferenceRequest) (provider.Preference, error) {
	body := preferenceBody{
		BackURLs:          req.BackURLs,
		NotificationURL:   req.NotificationURL,
		Metadata:          req.Metadata,
		ExternalReference: req.ExternalReference,
	}
	if req.BackURLs.Success != "" {
		body.AutoReturn = "approved"
	}
	if req.PayerEmail != "" {
		body.Payer = &payer{Email: req.PayerEmail}
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, preferenceItem{
			ID:          item.ID,
			Title:       item.Title,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   json.Number(item.UnitPrice.String()),
			CurrencyID:  item.CurrencyID,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return provider.Preference{}, apierrors.Wrap(apierrors.ErrCodeInternalError, err, "encode preference")
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if req.IdempotencyKey != "" {
		headers["X-Idempotency-Key"] = req.IdempotencyKey
	}

	var resp preferenceResponse
	if err := c.do(ctx, "create_preference", http.MethodPost, "/checkout/preferences", payload, headers, &resp); err != nil {
		return provider.Preference{}, err
	}

	checkout := resp.InitPoint
	if checkout == "" {
		checkout = resp.SandboxInitPoint
	}
	return provider.Preference{ID: resp.ID, CheckoutURL: checkout}, nil
}

// GetPayment fetches the authoritative payment record.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (provider.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return provider.Payment{}, apierrors.New(apierrors.ErrCodeValidationFailed, "payment id required")
	}

	var resp paymentResponse
	path := "/v1/payments/" + url.PathEscape(paymentID)
	if err := c.do(ctx, "get_payment", http.MethodGet, path, nil, nil, &resp); err != nil {
		return provider.Payment{}, err
	}

	amount := decimal.Zero
	if resp.TransactionAmount != "" {
		parsed, err := decimal.NewFromString(resp.TransactionAmount.String())
		if err != nil {
			return provider.Payment{}, apierrors.Wrap(apierrors.ErrCodeInternalError, err, "decode transaction amount")
		}
		amount = parsed
	}

	return provider.Payment{
		ID:                resp.ID.String(),
		ExternalReference: resp.ExternalReference,
		Status:            resp.Status,
		StatusDetail:      resp.StatusDetail,
		Amount:            amount,
		Currency:          resp.CurrencyID,
		PaymentMethodID:   resp.PaymentMethodID,
		PaymentTypeID:     resp.PaymentTypeID,
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, headers map[string]string, out any) error {
	start := time.Now()
	err := c.breakers.Run(circuitbreaker.ServiceProvider, func() error {
		return c.exchange(ctx, method, path, payload, headers, out)
	})
	if circuitbreaker.IsOpen(err) {
		err = apierrors.Wrap(apierrors.ErrCodeProviderUnavailable, err, "payment provider circuit open")
	}
	c.metrics.ObserveProviderCall(op, time.Since(start), err)
	return err
}

func (c *Client) exchange(ctx context.Context, method, path string, payload []byte, headers map[string]string, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrCodeInternalError, err, "build request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrCodeProviderUnavailable, err, "payment provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierrors.Wrap(apierrors.ErrCodeProviderUnavailable, err, "decode provider response")
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)
	detail := apiErr.Message
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	cause := fmt.Errorf("mercadopago: status %d: %s", resp.StatusCode, detail)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apierrors.Wrap(apierrors.ErrCodeNotFound, cause, "payment not found at provider")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apierrors.Wrap(apierrors.ErrCodeProviderUnavailable, cause, "payment provider unavailable")
	case resp.StatusCode == http.StatusBadRequest:
		return apierrors.Wrap(apierrors.ErrCodeValidationFailed, cause, "payment provider rejected the request")
	default:
		return apierrors.Wrap(apierrors.ErrCodeInternalError, cause, "payment provider error")
	}
}
