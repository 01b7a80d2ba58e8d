package errors

// ErrorCode represents a machine-readable error identifier surfaced to API callers.
type ErrorCode string

// Guard pipeline errors
const (
	// Too many attempts for a key inside the current window
	ErrCodeRateLimited ErrorCode = "rate_limited"

	// Webhook signature missing, malformed or not matching the configured secret
	ErrCodeSignatureInvalid ErrorCode = "signature_invalid"

	// Stored amount or currency disagrees with the provider's authoritative payment
	ErrCodeAmountMismatch ErrorCode = "amount_mismatch"
)

// Request errors
const (
	ErrCodeValidationFailed ErrorCode = "validation_failed"
	ErrCodeNotFound         ErrorCode = "not_found"

	// Another process is computing the result for the same idempotency key
	ErrCodeRequestInFlight ErrorCode = "request_in_flight"

	// Missing or wrong admin credentials
	ErrCodeUnauthorized ErrorCode = "unauthorized"
)

// External service errors
const (
	ErrCodeProviderUnavailable ErrorCode = "provider_unavailable"
)

// Internal/System errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient conditions, not validation or tamper failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRateLimited,
		ErrCodeProviderUnavailable,
		ErrCodeRequestInFlight:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeValidationFailed:
		return 400
	case ErrCodeSignatureInvalid, ErrCodeUnauthorized:
		return 401
	case ErrCodeNotFound:
		return 404
	case ErrCodeRequestInFlight:
		return 409
	case ErrCodeAmountMismatch:
		return 422
	case ErrCodeRateLimited:
		return 429
	case ErrCodeProviderUnavailable:
		return 503
	default:
		return 500
	}
}
