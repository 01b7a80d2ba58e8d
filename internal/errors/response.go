package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorResponse is the standardized error body returned to API callers.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code, message, and optional context.
type ErrorDetail struct {
	Code      ErrorCode      `json:"code"`              // Machine-readable error code
	Message   string         `json:"message"`           // Human-readable error message
	Retryable bool           `json:"retryable"`         // Whether the client should retry
	Details   map[string]any `json:"details,omitempty"` // Optional context (field errors, retry hints)
}

// NewErrorResponse creates a standardized error response.
func NewErrorResponse(code ErrorCode, message string, details map[string]any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: code.IsRetryable(),
			Details:   details,
		},
	}
}

// WriteJSON writes the error response with the status mapped from its code.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Error.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(e)
}

// WriteError writes an error response in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]any) {
	NewErrorResponse(code, message, details).WriteJSON(w)
}

// WriteSimpleError writes an error with no additional details.
func WriteSimpleError(w http.ResponseWriter, code ErrorCode, message string) {
	WriteError(w, code, message, nil)
}

// WriteErrorWithDetail writes an error with a single detail field.
func WriteErrorWithDetail(w http.ResponseWriter, code ErrorCode, message string, key string, value any) {
	WriteError(w, code, message, map[string]any{key: value})
}

// WriteFromError classifies err and writes it. Rate-limited responses carry Retry-After
// when retryAfterSeconds is positive.
func WriteFromError(w http.ResponseWriter, err error, retryAfterSeconds int) {
	code := CodeOf(err)
	if code == ErrCodeRateLimited && retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	WriteSimpleError(w, code, MessageOf(err))
}
