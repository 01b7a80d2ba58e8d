package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/CedrosPay/payguard/internal/auth"
	"github.com/CedrosPay/payguard/internal/logger"
	"github.com/CedrosPay/payguard/internal/stripe"
	"github.com/CedrosPay/payguard/internal/webhook"
	"github.com/CedrosPay/payguard/pkg/responders"
)

// mercadoPagoWebhook acknowledges every delivery with 200. data.id and type fall back
// to the query string, where the provider also sends them.
func (h *handlers) mercadoPagoWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.logger)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn().Err(err).Msg("webhook.body_read_failed")
		body = nil
	}

	var n webhook.Notification
	if len(body) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			log.Warn().Err(err).Msg("webhook.body_invalid")
			n = webhook.Notification{}
		}
	}

	q := r.URL.Query()
	if n.Data.ID == "" {
		n.Data.ID = webhook.FlexString(firstNonEmpty(q.Get("data.id"), q.Get("id")))
	}
	if n.Type == "" {
		n.Type = firstNonEmpty(q.Get("type"), q.Get("topic"))
	}

	h.payments.Acknowledge(r.Context(), webhook.Delivery{
		Notification:    n,
		SignatureHeader: r.Header.Get(auth.HeaderSignature),
		RequestID:       r.Header.Get(auth.HeaderRequestID),
		Body:            body,
		ReceivedAt:      time.Now().UTC(),
	})
	responders.Received(w)
}

// stripeWebhook translates Stripe events into notifications and acknowledges with 200.
func (h *handlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.logger)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn().Err(err).Msg("webhook.body_read_failed")
		responders.Received(w)
		return
	}

	n, err := stripe.Translate(body)
	if err != nil {
		log.Warn().Err(err).Msg("webhook.stripe_event_invalid")
		responders.Received(w)
		return
	}

	h.payments.Acknowledge(r.Context(), webhook.Delivery{
		Notification:    n,
		SignatureHeader: r.Header.Get(stripe.HeaderSignature),
		RequestID:       n.ID.String(),
		Body:            body,
		ReceivedAt:      time.Now().UTC(),
	})
	responders.Received(w)
}
