package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/payguard/internal/callbackurl"
	apierrors "github.com/CedrosPay/payguard/internal/errors"
	"github.com/CedrosPay/payguard/internal/idempotency"
	"github.com/CedrosPay/payguard/internal/money"
	"github.com/CedrosPay/payguard/internal/provider"
	"github.com/CedrosPay/payguard/internal/ratelimit"
	"github.com/CedrosPay/payguard/internal/storage"
)

// CreatePaymentRequest asks for a hosted checkout. IdempotencyKey and UserID come from
// request headers, the rest from the body.
type CreatePaymentRequest struct {
	IdempotencyKey  string            `json:"-" validate:"required,max=255"`
	UserID          string            `json:"-" validate:"required,max=128"`
	Items           []provider.Item   `json:"items" validate:"required,min=1,max=100,dive"`
	BackURLs        provider.BackURLs `json:"back_urls"`
	NotificationURL string            `json:"notification_url,omitempty" validate:"omitempty,url"`
	PayerEmail      string            `json:"payer_email,omitempty" validate:"omitempty,email"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
}

// CreatePaymentResult is returned to the caller and cached under the idempotency key.
type CreatePaymentResult struct {
	PaymentID         string          `json:"payment_id"`
	ExternalReference string          `json:"external_reference"`
	PreferenceID      string          `json:"preference_id"`
	CheckoutURL       string          `json:"checkout_url"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
}

// paymentKey scopes caller idempotency tokens per user.
func paymentKey(userID, token string) string {
	return "payment:" + userID + ":" + token
}

// CreatePayment creates a checkout preference and its local record at most once per
// idempotency key. The bool reports whether the result was replayed from the cache.
func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest) (CreatePaymentResult, bool, error) {
	if req.UserID != "" && !s.limiter.Allow(ctx, ratelimit.CreateKey(req.UserID), s.settings.CreateLimit, s.settings.CreateWindow) {
		s.metrics.ObserveRateLimit(ratelimit.ScopeCreate)
		return CreatePaymentResult{}, false, apierrors.ErrRateLimited
	}

	if err := s.validateRequest(req); err != nil {
		return CreatePaymentResult{}, false, err
	}

	res, replayed, err := idempotency.Do(ctx, s.guard, paymentKey(req.UserID, req.IdempotencyKey), s.settings.PaymentTTL,
		func(ctx context.Context) (CreatePaymentResult, error) {
			return s.createPayment(ctx, req)
		})
	if err != nil {
		return CreatePaymentResult{}, false, err
	}
	if replayed {
		s.metrics.ObserveIdempotencyReplay(ratelimit.ScopeCreate)
	}
	return res, replayed, nil
}

func (s *Service) createPayment(ctx context.Context, req CreatePaymentRequest) (CreatePaymentResult, error) {
	metadata := s.sanitizer.Metadata(req.Metadata)

	for _, raw := range []string{req.BackURLs.Success, req.BackURLs.Pending, req.BackURLs.Failure, req.NotificationURL} {
		if raw == "" {
			continue
		}
		if err := callbackurl.Check(raw, s.settings.CallbackAllowedHosts, callbackurl.Options{AllowInsecure: s.settings.AllowInsecureCallbacks}); err != nil {
			s.metrics.ObserveCallbackURLRejected()
			return CreatePaymentResult{}, apierrors.Wrap(apierrors.ErrCodeValidationFailed, err, "callback url not allowed")
		}
	}

	lines := make([]money.Line, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, money.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}
	amount := money.Total(lines...)
	currency := strings.ToUpper(req.Items[0].CurrencyID)
	externalRef := uuid.NewString()

	callCtx, cancel := context.WithTimeout(ctx, s.settings.ProviderTimeout)
	pref, err := s.provider.CreatePreference(callCtx, provider.PreferenceRequest{
		Items:             req.Items,
		BackURLs:          req.BackURLs,
		NotificationURL:   req.NotificationURL,
		Metadata:          metadata,
		ExternalReference: externalRef,
		PayerEmail:        req.PayerEmail,
		IdempotencyKey:    req.IdempotencyKey,
	})
	cancel()
	if err != nil {
		return CreatePaymentResult{}, providerError(err, "create preference")
	}

	rec, err := s.store.CreatePayment(ctx, storage.PaymentRecord{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		ExternalReference: externalRef,
		PreferenceID:      pref.ID,
		Amount:            amount,
		Currency:          currency,
		Status:            storage.StatusCreated,
		Metadata:          metadata,
	})
	if err != nil {
		return CreatePaymentResult{}, apierrors.Wrap(apierrors.ErrCodeInternalError, err, "store payment record")
	}
	s.metrics.ObservePaymentCreated(rec.Status)

	return CreatePaymentResult{
		PaymentID:         rec.ID,
		ExternalReference: rec.ExternalReference,
		PreferenceID:      pref.ID,
		CheckoutURL:       pref.CheckoutURL,
		Amount:            rec.Amount,
		Currency:          rec.Currency,
		Status:            rec.Status,
	}, nil
}

func (s *Service) validateRequest(req CreatePaymentRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return apierrors.Wrap(apierrors.ErrCodeValidationFailed, err,
				fmt.Sprintf("%s failed %s validation", first.Namespace(), first.Tag()))
		}
		return apierrors.Wrap(apierrors.ErrCodeValidationFailed, err, "invalid payment request")
	}

	currency := req.Items[0].CurrencyID
	for i, item := range req.Items {
		if !item.UnitPrice.IsPositive() {
			return apierrors.New(apierrors.ErrCodeValidationFailed, fmt.Sprintf("items[%d].unit_price must be positive", i))
		}
		if !strings.EqualFold(item.CurrencyID, currency) {
			return apierrors.New(apierrors.ErrCodeValidationFailed, "all items must share one currency")
		}
	}
	return nil
}

// providerError keeps classified provider errors and maps deadline expiry to provider_unavailable.
func providerError(err error, op string) error {
	if apierrors.CodeOf(err) != apierrors.ErrCodeInternalError {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.Wrap(apierrors.ErrCodeProviderUnavailable, err, op+" timed out")
	}
	return apierrors.Wrap(apierrors.ErrCodeInternalError, err, op+" failed")
}
