package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/CedrosPay/payguard/internal/callbacks"
	apierrors "github.com/CedrosPay/payguard/internal/errors"
	"github.com/CedrosPay/payguard/internal/idempotency"
	"github.com/CedrosPay/payguard/internal/logger"
	"github.com/CedrosPay/payguard/internal/money"
	"github.com/CedrosPay/payguard/internal/provider"
	"github.com/CedrosPay/payguard/internal/ratelimit"
	"github.com/CedrosPay/payguard/internal/storage"
	"github.com/CedrosPay/payguard/internal/webhook"
)

// Outcome is the final pipeline state of one webhook delivery.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeSignatureInvalid Outcome = "signature_invalid"
	OutcomeAmountMismatch   Outcome = "amount_mismatch"
	OutcomeFailed           Outcome = "failed"
)

// errPaymentNotFound marks a lookup miss inside the guarded computation so it is not cached.
var errPaymentNotFound = errors.New("payments: payment not found")

// webhookResult is what the dedup cache holds for a processed notification.
type webhookResult struct {
	Outcome   Outcome `json:"outcome"`
	PaymentID string  `json:"payment_id"`
	Status    string  `json:"status"`
}

// HandleWebhook runs one delivery through the pipeline. SignatureInvalid, AmountMismatch,
// RateLimited and transient failures come back as errors; duplicates, ignored and
// not-found notifications do not.
func (s *Service) HandleWebhook(ctx context.Context, d webhook.Delivery) (Outcome, error) {
	start := time.Now()
	outcome, err := s.handleWebhook(ctx, d)
	s.metrics.ObserveWebhook(string(outcome), time.Since(start))
	return outcome, err
}

func (s *Service) handleWebhook(ctx context.Context, d webhook.Delivery) (Outcome, error) {
	n := d.Notification
	dataID := n.Data.ID.String()
	if n.Type != webhook.TypePayment || dataID == "" {
		return OutcomeIgnored, nil
	}

	if !s.limiter.Allow(ctx, ratelimit.WebhookKey, s.settings.WebhookLimit, s.settings.WebhookWindow) {
		s.metrics.ObserveRateLimit(ratelimit.ScopeWebhook)
		s.metrics.ObserveWebhookRejection(string(OutcomeRateLimited))
		return OutcomeRateLimited, apierrors.ErrRateLimited
	}

	key := idempotency.WebhookKey(s.settings.KeyPrefix, n.Type, s.dedupID(n))
	if _, ok := s.guard.Get(ctx, key); ok {
		s.metrics.ObserveIdempotencyReplay(ratelimit.ScopeWebhook)
		return OutcomeDuplicate, nil
	}

	if !s.settings.SkipSignatureVerification {
		if s.verifier == nil || !s.verifier.Verify(d) {
			s.metrics.ObserveWebhookRejection(string(OutcomeSignatureInvalid))
			return OutcomeSignatureInvalid, apierrors.ErrSignatureInvalid
		}
	}

	raw, replayed, err := s.guard.GetOrCompute(ctx, key, s.settings.WebhookTTL, func(ctx context.Context) ([]byte, error) {
		res, err := s.processPayment(ctx, dataID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	switch {
	case errors.Is(err, errPaymentNotFound):
		return OutcomeNotFound, nil
	case errors.Is(err, apierrors.ErrAmountMismatch):
		s.metrics.ObserveWebhookRejection(string(OutcomeAmountMismatch))
		return OutcomeAmountMismatch, err
	case err != nil:
		return OutcomeFailed, err
	}

	if replayed {
		s.metrics.ObserveIdempotencyReplay(ratelimit.ScopeWebhook)
		return OutcomeDuplicate, nil
	}
	var res webhookResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return OutcomeFailed, apierrors.Wrap(apierrors.ErrCodeInternalError, err, "decode webhook result")
	}
	return res.Outcome, nil
}

// processPayment fetches the authoritative payment, cross-checks it against the stored
// record and persists the new status.
func (s *Service) processPayment(ctx context.Context, paymentID string) (webhookResult, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.settings.ProviderTimeout)
	payment, err := s.provider.GetPayment(fetchCtx, paymentID)
	cancel()
	if err != nil {
		if apierrors.CodeOf(err) == apierrors.ErrCodeNotFound {
			return webhookResult{}, fmt.Errorf("%w: provider payment %s", errPaymentNotFound, paymentID)
		}
		return webhookResult{}, providerError(err, "fetch payment")
	}

	record, err := s.store.FindByExternalReference(ctx, payment.ExternalReference)
	if errors.Is(err, storage.ErrNotFound) {
		return webhookResult{}, fmt.Errorf("%w: external reference %q", errPaymentNotFound, payment.ExternalReference)
	}
	if err != nil {
		return webhookResult{}, apierrors.Wrap(apierrors.ErrCodeInternalError, err, "find payment record")
	}

	if !money.WithinTolerance(record.Amount, payment.Amount, s.settings.Tolerance) {
		return webhookResult{}, apierrors.Wrap(apierrors.ErrCodeAmountMismatch,
			fmt.Errorf("stored %s, provider %s", record.Amount, payment.Amount), "payment amount mismatch")
	}
	if !money.SameCurrency(record.Currency, payment.Currency) {
		return webhookResult{}, apierrors.Wrap(apierrors.ErrCodeAmountMismatch,
			fmt.Errorf("stored %s, provider %s", record.Currency, payment.Currency), "payment currency mismatch")
	}

	updated, err := s.store.UpdatePayment(ctx, record.ID, storage.PaymentPatch{
		Status:            payment.Status,
		StatusDetail:      payment.StatusDetail,
		ProviderPaymentID: payment.ID,
		PaymentMethodID:   payment.PaymentMethodID,
		PaymentTypeID:     payment.PaymentTypeID,
	})
	if err != nil {
		return webhookResult{}, apierrors.Wrap(apierrors.ErrCodeInternalError, err, "update payment record")
	}

	s.notify(ctx, updated, payment)

	return webhookResult{Outcome: OutcomeProcessed, PaymentID: updated.ID, Status: updated.Status}, nil
}

// notify runs the update callback. Its failures and panics are logged and swallowed.
func (s *Service) notify(ctx context.Context, rec storage.PaymentRecord, payment provider.Payment) {
	log := logger.FromContextOr(ctx, s.logger)
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("payment_id", rec.ID).
				Interface("panic", r).
				Msg("payments.update_callback_panicked")
		}
	}()

	err := s.notifier.Notify(ctx, callbacks.PaymentUpdate{
		Payment:         rec,
		Status:          rec.Status,
		StatusDetail:    rec.StatusDetail,
		ProviderPayment: payment,
	})
	if err != nil {
		log.Warn().Err(err).Str("payment_id", rec.ID).Msg("payments.update_callback_failed")
	}
}

// dedupID is the part of the dedup key that identifies one delivery of n.
func (s *Service) dedupID(n webhook.Notification) string {
	dataID := n.Data.ID.String()
	if s.settings.DedupOnEventID && n.ID != "" {
		return dataID + ":" + n.ID.String()
	}
	return dataID
}

// Acknowledge wraps HandleWebhook for the provider-facing edge: it never fails and
// recovers panics. The inner outcome is logged with the notification identifiers.
func (s *Service) Acknowledge(ctx context.Context, d webhook.Delivery) (outcome Outcome) {
	n := d.Notification
	log := logger.FromContextOr(ctx, s.logger).With().
		Str("notification_id", n.ID.String()).
		Str("type", n.Type).
		Str("data_id", n.Data.ID.String()).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("webhook.panicked")
			outcome = OutcomeFailed
		}
	}()

	outcome, err := s.HandleWebhook(ctx, d)
	logOutcome(log, outcome, err)
	return outcome
}

func logOutcome(log zerolog.Logger, outcome Outcome, err error) {
	if err == nil {
		switch outcome {
		case OutcomeIgnored:
			log.Debug().Msg("webhook.ignored")
		case OutcomeDuplicate:
			log.Info().Msg("webhook.duplicate")
		case OutcomeNotFound:
			log.Warn().Msg("webhook.payment_not_found")
		default:
			log.Info().Str("outcome", string(outcome)).Msg("webhook.acknowledged")
		}
		return
	}

	evt := log.Warn()
	if outcome == OutcomeFailed {
		evt = log.Error()
	}
	evt.Err(err).
		Str("outcome", string(outcome)).
		Str("error_code", string(apierrors.CodeOf(err))).
		Msg("webhook.rejected")
}
