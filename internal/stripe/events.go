package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v72"
	stripewebhook "github.com/stripe/stripe-go/v72/webhook"

	"github.com/CedrosPay/payguard/internal/webhook"
)

// HeaderSignature carries Stripe's event signature.
const HeaderSignature = "Stripe-Signature"

// WebhookVerifier checks Stripe-Signature headers against the endpoint secret.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier creates a verifier for the endpoint secret.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Verify implements webhook.Verifier. Stripe signs the raw body, so the delivery must carry it.
func (v *WebhookVerifier) Verify(d webhook.Delivery) bool {
	if v.secret == "" || d.SignatureHeader == "" || len(d.Body) == 0 {
		return false
	}
	_, err := stripewebhook.ConstructEvent(d.Body, d.SignatureHeader, v.secret)
	return err == nil
}

// Translate maps a Stripe event onto the provider-neutral notification.
// payment_intent.* events become payment notifications keyed by the intent id;
// every other event keeps its Stripe type and is ignored downstream.
func Translate(body []byte) (webhook.Notification, error) {
	if len(body) == 0 {
		return webhook.Notification{}, errors.New("stripe: webhook payload empty")
	}
	var event stripeapi.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return webhook.Notification{}, fmt.Errorf("stripe: decode event: %w", err)
	}

	n := webhook.Notification{
		ID:          webhook.FlexString(event.ID),
		Type:        event.Type,
		Action:      event.Type,
		DateCreated: time.Unix(event.Created, 0).UTC(),
		LiveMode:    event.Livemode,
		APIVersion:  event.APIVersion,
	}
	if event.Account != "" {
		n.UserID = webhook.FlexString(event.Account)
	}

	if !strings.HasPrefix(event.Type, "payment_intent.") || event.Data == nil {
		return n, nil
	}

	var intent struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return webhook.Notification{}, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	n.Type = webhook.TypePayment
	n.Data.ID = webhook.FlexString(intent.ID)
	return n, nil
}
