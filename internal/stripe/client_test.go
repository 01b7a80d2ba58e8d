package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/payguard/internal/config"
	apierrors "github.com/CedrosPay/payguard/internal/errors"
	"github.com/CedrosPay/payguard/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.StripeConfig{
		SecretKey:  "sk_test_123",
		SuccessURL: "https://shop.test/ok",
		CancelURL:  "https://shop.test/cancel",
	}, WithBaseURL(srv.URL), WithTimeout(time.Second))
}

func TestClient_CreatePreference(t *testing.T) {
	var form url.Values
	var idem string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		idem = r.Header.Get("Idempotency-Key")
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`))
	})

	pref, err := client.CreatePreference(context.Background(), provider.PreferenceRequest{
		Items: []provider.Item{
			{Title: "Plan", Quantity: 1, UnitPrice: decimal.RequireFromString("19.99"), CurrencyID: "USD"},
		},
		ExternalReference: "ext-9",
		Metadata:          map[string]any{"order": "42", "tags": []any{"a"}},
		IdempotencyKey:    "idem-9",
	})
	if err != nil {
		t.Fatalf("CreatePreference: %v", err)
	}

	if pref.ID != "cs_test_1" || pref.CheckoutURL != "https://checkout.stripe.test/cs_test_1" {
		t.Errorf("pref = %+v", pref)
	}
	if idem != "idem-9" {
		t.Errorf("Idempotency-Key = %q", idem)
	}
	checks := map[string]string{
		"line_items[0][price_data][unit_amount]":           "1999",
		"line_items[0][price_data][currency]":              "usd",
		"metadata[external_reference]":                     "ext-9",
		"metadata[tags]":                                   `["a"]`,
		"payment_intent_data[metadata][external_reference]": "ext-9",
		"success_url":                                      "https://shop.test/ok",
		"cancel_url":                                       "https://shop.test/cancel",
	}
	for k, want := range checks {
		if got := form.Get(k); got != want {
			t.Errorf("form[%s] = %q, want %q", k, got, want)
		}
	}
}

func TestClient_GetPayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents/pi_123" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such payment_intent"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 9999,
			"currency": "brl",
			"status": "succeeded",
			"metadata": {"external_reference": "ext-1"},
			"payment_method_types": ["card"]
		}`))
	})

	p, err := client.GetPayment(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if p.ExternalReference != "ext-1" || p.Status != "approved" || p.StatusDetail != "succeeded" {
		t.Errorf("payment = %+v", p)
	}
	if !p.Amount.Equal(decimal.RequireFromString("99.99")) || p.Currency != "BRL" {
		t.Errorf("amount = %s %s", p.Amount, p.Currency)
	}
	if p.PaymentTypeID != "card" {
		t.Errorf("payment type = %q", p.PaymentTypeID)
	}

	_, err = client.GetPayment(context.Background(), "pi_missing")
	if apierrors.CodeOf(err) != apierrors.ErrCodeNotFound {
		t.Errorf("missing intent err = %v, want not_found", err)
	}
}

func TestMinorUnits(t *testing.T) {
	if got := toMinorUnits(decimal.RequireFromString("10.005"), "usd"); got != 1001 {
		t.Errorf("toMinorUnits usd = %d", got)
	}
	if got := toMinorUnits(decimal.RequireFromString("500"), "JPY"); got != 500 {
		t.Errorf("toMinorUnits jpy = %d", got)
	}
	if got := fromMinorUnits(500, "jpy"); !got.Equal(decimal.NewFromInt(500)) {
		t.Errorf("fromMinorUnits jpy = %s", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"first value non-empty", []string{"value1", "value2"}, "value1"},
		{"whitespace skipped", []string{"   ", "value2"}, "value2"},
		{"all empty", []string{"", ""}, ""},
		{"empty slice", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstNonEmpty(tt.values...); got != tt.want {
				t.Errorf("firstNonEmpty() = %q, want %q", got, tt.want)
			}
		})
	}
}
