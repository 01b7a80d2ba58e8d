package httpserver

import (
	"net/http"

	apierrors "github.com/CedrosPay/payguard/internal/errors"
	"github.com/CedrosPay/payguard/internal/logger"
	"github.com/CedrosPay/payguard/internal/payments"
	"github.com/CedrosPay/payguard/pkg/responders"
)

// Header names for payment creation.
const (
	headerIdempotencyKey    = "Idempotency-Key"
	headerUserID            = "X-User-ID"
	headerIdempotencyReplay = "X-Idempotency-Replay"
)

// createPreference creates a hosted checkout. Replays of a completed key return 200
// with X-Idempotency-Replay; first creations return 201.
func (h *handlers) createPreference(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOr(r.Context(), h.logger)

	var req payments.CreatePaymentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeValidationFailed, "invalid JSON body")
		return
	}
	req.IdempotencyKey = r.Header.Get(headerIdempotencyKey)
	req.UserID = r.Header.Get(headerUserID)

	res, replayed, err := h.payments.CreatePayment(r.Context(), req)
	if err != nil {
		log.Warn().Err(err).
			Str("user_id", logger.Truncate(req.UserID)).
			Str("error_code", string(apierrors.CodeOf(err))).
			Msg("payments.create_failed")
		apierrors.WriteFromError(w, err, int(h.cfg.RateLimit.CreatePerUserWind.Seconds()))
		return
	}

	if replayed {
		w.Header().Set(headerIdempotencyReplay, "true")
		responders.JSON(w, http.StatusOK, res)
		return
	}
	log.Info().
		Str("payment_id", res.PaymentID).
		Str("preference_id", res.PreferenceID).
		Str("amount", res.Amount.String()).
		Msg("payments.created")
	responders.JSON(w, http.StatusCreated, res)
}
