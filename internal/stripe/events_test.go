package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	stripeapi "github.com/stripe/stripe-go/v72"

	"github.com/CedrosPay/payguard/internal/webhook"
)

func signStripe(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func intentEvent(eventType string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": %q,
		"created": 1700000000,
		"livemode": false,
		"data": {"object": {"id": "pi_123", "object": "payment_intent"}}
	}`, stripeapi.APIVersion, eventType))
}

func TestWebhookVerifier(t *testing.T) {
	body := intentEvent("payment_intent.succeeded")
	header := signStripe("whsec_test", time.Now().Unix(), body)

	v := NewWebhookVerifier("whsec_test")
	if !v.Verify(webhook.Delivery{Body: body, SignatureHeader: header}) {
		t.Fatal("expected valid stripe signature")
	}

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-3] = ' '
	if v.Verify(webhook.Delivery{Body: tampered, SignatureHeader: header}) {
		t.Error("tampered body accepted")
	}
	if NewWebhookVerifier("other").Verify(webhook.Delivery{Body: body, SignatureHeader: header}) {
		t.Error("wrong secret accepted")
	}
	if NewWebhookVerifier("").Verify(webhook.Delivery{Body: body, SignatureHeader: header}) {
		t.Error("empty secret accepted")
	}
	stale := signStripe("whsec_test", time.Now().Add(-time.Hour).Unix(), body)
	if v.Verify(webhook.Delivery{Body: body, SignatureHeader: stale}) {
		t.Error("stale signature accepted")
	}
}

func TestTranslate(t *testing.T) {
	n, err := Translate(intentEvent("payment_intent.succeeded"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if n.Type != webhook.TypePayment || n.Data.ID != "pi_123" || n.Action != "payment_intent.succeeded" {
		t.Errorf("notification = %+v", n)
	}
	if n.ID != "evt_1" || !n.DateCreated.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("notification = %+v", n)
	}

	other, err := Translate(intentEvent("customer.created"))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if other.Type != "customer.created" || other.Data.ID != "" {
		t.Errorf("non-payment event = %+v", other)
	}

	if _, err := Translate([]byte("{")); err == nil {
		t.Error("expected decode error")
	}
}
