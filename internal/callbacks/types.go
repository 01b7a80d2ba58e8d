package callbacks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/CedrosPay/payguard/internal/provider"
	"github.com/CedrosPay/payguard/internal/storage"
)

// PaymentUpdate is handed to update notifiers after a webhook is persisted.
type PaymentUpdate struct {
	EventID         string                `json:"event_id"`
	EventType       string                `json:"event_type"`
	Payment         storage.PaymentRecord `json:"payment"`
	Status          string                `json:"status"`
	StatusDetail    string                `json:"status_detail"`
	ProviderPayment provider.Payment      `json:"provider_payment"`
	OccurredAt      time.Time             `json:"occurred_at"`
}

// Notifier receives persisted payment updates. Errors are logged by the caller, never retried.
type Notifier interface {
	Notify(ctx context.Context, update PaymentUpdate) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, update PaymentUpdate) error

func (f NotifierFunc) Notify(ctx context.Context, update PaymentUpdate) error {
	return f(ctx, update)
}

// NoopNotifier discards updates.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, PaymentUpdate) error { return nil }

// ErrCallbackDisabled is returned by SendOnce when no update URL is configured.
var ErrCallbackDisabled = errors.New("callbacks: disabled")

// Multi fans an update out to every notifier, running all of them and joining their errors.
func Multi(notifiers ...Notifier) Notifier {
	var active []Notifier
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if _, noop := n.(NoopNotifier); noop {
			continue
		}
		active = append(active, n)
	}
	switch len(active) {
	case 0:
		return NoopNotifier{}
	case 1:
		return active[0]
	}
	return multiNotifier(active)
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(ctx context.Context, update PaymentUpdate) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// generateEventID returns "evt_" followed by 24 hex characters.
func generateEventID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(b)
}

// PrepareUpdate fills the event id, type and timestamp when unset.
// An existing EventID is kept so downstream receivers can deduplicate.
func PrepareUpdate(u *PaymentUpdate) {
	if u.EventID == "" {
		u.EventID = generateEventID()
	}
	if u.EventType == "" {
		u.EventType = "payment.updated"
	}
	if u.OccurredAt.IsZero() {
		u.OccurredAt = time.Now().UTC()
	}
}
