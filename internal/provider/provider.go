// Package provider defines the payment provider collaborator consumed by the payment service.
package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

// Client is implemented by each payment provider adapter.
// Transient failures are returned as provider_unavailable errors; nothing retries inside the client.
type Client interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
}

// Item is one line of a checkout preference.
type Item struct {
	ID          string          `json:"id,omitempty" validate:"max=256"`
	Title       string          `json:"title" validate:"required,max=256"`
	Description string          `json:"description,omitempty" validate:"max=1024"`
	Quantity    int             `json:"quantity" validate:"min=1,max=10000"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CurrencyID  string          `json:"currency_id,omitempty" validate:"omitempty,len=3,alpha"`
}

// BackURLs are where the payer is sent after checkout.
type BackURLs struct {
	Success string `json:"success,omitempty" validate:"omitempty,url"`
	Pending string `json:"pending,omitempty" validate:"omitempty,url"`
	Failure string `json:"failure,omitempty" validate:"omitempty,url"`
}

// PreferenceRequest asks the provider for a hosted checkout.
type PreferenceRequest struct {
	Items             []Item
	BackURLs          BackURLs
	NotificationURL   string
	Metadata          map[string]any
	ExternalReference string
	PayerEmail        string
	IdempotencyKey    string
}

// Preference is the provider's checkout handle.
type Preference struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// Payment is the provider's authoritative view of a payment.
type Payment struct {
	ID                string          `json:"id"`
	ExternalReference string          `json:"external_reference"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	PaymentMethodID   string          `json:"payment_method_id"`
	PaymentTypeID     string          `json:"payment_type_id"`
}
