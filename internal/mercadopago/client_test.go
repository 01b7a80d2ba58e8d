package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/payguard/internal/circuitbreaker"
	apierrors "github.com/CedrosPay/payguard/internal/errors"
	"github.com/CedrosPay/payguard/internal/metrics"
	"github.com/CedrosPay/payguard/internal/provider"
)

func TestClient_CreatePreference(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotIdem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/preferences" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("X-Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pref-123","init_point":"https://mp.test/checkout/pref-123"}`))
	}))
	defer srv.Close()

	client := NewClient("TEST-token", time.Second, WithBaseURL(srv.URL))
	pref, err := client.CreatePreference(context.Background(), provider.PreferenceRequest{
		Items: []provider.Item{
			{Title: "Plan", Quantity: 2, UnitPrice: decimal.RequireFromString("49.90"), CurrencyID: "BRL"},
		},
		BackURLs:          provider.BackURLs{Success: "https://shop.test/ok"},
		ExternalReference: "ext-1",
		Metadata:          map[string]any{"order": "42"},
		IdempotencyKey:    "idem-1",
	})
	if err != nil {
		t.Fatalf("CreatePreference: %v", err)
	}

	if pref.ID != "pref-123" || pref.CheckoutURL != "https://mp.test/checkout/pref-123" {
		t.Errorf("pref = %+v", pref)
	}
	if gotAuth != "Bearer TEST-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotIdem != "idem-1" {
		t.Errorf("X-Idempotency-Key = %q", gotIdem)
	}
	if gotBody["external_reference"] != "ext-1" || gotBody["auto_return"] != "approved" {
		t.Errorf("body = %v", gotBody)
	}
	items := gotBody["items"].([]any)
	if price := items[0].(map[string]any)["unit_price"]; price != 49.9 {
		t.Errorf("unit_price = %v (%T), want JSON number", price, price)
	}
}

func TestClient_GetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/123456789" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{
			"id": 123456789,
			"external_reference": "ext-1",
			"status": "approved",
			"status_detail": "accredited",
			"transaction_amount": 99.99,
			"currency_id": "BRL",
			"payment_method_id": "pix",
			"payment_type_id": "bank_transfer"
		}`))
	}))
	defer srv.Close()

	client := NewClient("tok", time.Second, WithBaseURL(srv.URL))
	p, err := client.GetPayment(context.Background(), "123456789")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if p.ID != "123456789" || p.ExternalReference != "ext-1" || p.Status != "approved" {
		t.Errorf("payment = %+v", p)
	}
	if !p.Amount.Equal(decimal.RequireFromString("99.99")) {
		t.Errorf("amount = %s", p.Amount)
	}
	if p.PaymentMethodID != "pix" || p.Currency != "BRL" {
		t.Errorf("payment = %+v", p)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   apierrors.ErrorCode
	}{
		{"not found", http.StatusNotFound, apierrors.ErrCodeNotFound},
		{"server error", http.StatusBadGateway, apierrors.ErrCodeProviderUnavailable},
		{"throttled", http.StatusTooManyRequests, apierrors.ErrCodeProviderUnavailable},
		{"bad request", http.StatusBadRequest, apierrors.ErrCodeValidationFailed},
		{"unauthorized", http.StatusUnauthorized, apierrors.ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewClient("tok", time.Second, WithBaseURL(srv.URL)).GetPayment(context.Background(), "1")
			if got := apierrors.CodeOf(err); got != tt.want {
				t.Errorf("code = %s, want %s (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestClient_TimeoutIsProviderUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient("tok", time.Second, WithBaseURL(srv.URL)).GetPayment(ctx, "1")
	if !errors.Is(err, apierrors.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want provider unavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want wrapped deadline", err)
	}
}

func TestClient_BreakerAndMetrics(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := circuitbreaker.DefaultConfig()
	cfg.Provider = circuitbreaker.BreakerConfig{MaxRequests: 1, Timeout: time.Hour, ConsecutiveFailures: 2}
	breakers := circuitbreaker.NewManager(cfg)
	m := metrics.New(prometheus.NewRegistry())

	client := NewClient("tok", time.Second, WithBaseURL(srv.URL), WithBreakers(breakers), WithMetrics(m))
	for i := 0; i < 3; i++ {
		_, err := client.GetPayment(context.Background(), "1")
		if !errors.Is(err, apierrors.ErrProviderUnavailable) {
			t.Fatalf("call %d err = %v", i, err)
		}
	}

	if calls != 2 {
		t.Errorf("server saw %d calls, want 2 before the breaker opened", calls)
	}
	if got := testutil.ToFloat64(m.ProviderCallsTotal.WithLabelValues("get_payment", "error")); got != 3 {
		t.Errorf("provider error count = %v, want 3", got)
	}
}
