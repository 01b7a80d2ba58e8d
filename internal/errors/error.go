package errors

import (
	stderrors "errors"
)

// Error is a classified failure carrying one of the taxonomy codes.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Sentinels for errors.Is matching. Two *Error values match when their codes are equal.
var (
	ErrRateLimited         = &Error{Code: ErrCodeRateLimited, Message: "rate limit exceeded"}
	ErrSignatureInvalid    = &Error{Code: ErrCodeSignatureInvalid, Message: "webhook signature invalid"}
	ErrAmountMismatch      = &Error{Code: ErrCodeAmountMismatch, Message: "payment amount mismatch"}
	ErrValidationFailed    = &Error{Code: ErrCodeValidationFailed, Message: "validation failed"}
	ErrNotFound            = &Error{Code: ErrCodeNotFound, Message: "not found"}
	ErrProviderUnavailable = &Error{Code: ErrCodeProviderUnavailable, Message: "payment provider unavailable"}
	ErrRequestInFlight     = &Error{Code: ErrCodeRequestInFlight, Message: "request already in flight"}
	ErrInternal            = &Error{Code: ErrCodeInternalError, Message: "internal error"}
)

// New creates a classified error.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap classifies an underlying error. A nil err still yields a usable error.
func Wrap(code ErrorCode, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports code equality so that wrapped errors match the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the code of the outermost classified error in err's chain.
// Unclassified errors report ErrCodeInternalError.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternalError
}

// MessageOf returns the classified message without the wrapped cause, for client-facing output.
func MessageOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
