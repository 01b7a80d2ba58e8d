package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/CedrosPay/payguard/internal/webhook"
)

// Header names carrying the provider signature material.
const (
	HeaderSignature = "X-Signature"
	HeaderRequestID = "X-Request-Id"
)

var errMalformedHeader = errors.New("malformed signature header")

// SignatureParts are the segments of a `ts=<unix>,v1=<hex>` header.
type SignatureParts struct {
	Timestamp string
	V1        string
}

// ParseSignatureHeader splits the header into comma separated key=value segments.
// Unknown and reordered segments are tolerated; ts and v1 are both required.
func ParseSignatureHeader(header string) (SignatureParts, error) {
	var parts SignatureParts
	for _, segment := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(segment), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "ts":
			if parts.Timestamp == "" {
				parts.Timestamp = value
			}
		case "v1":
			if parts.V1 == "" {
				parts.V1 = value
			}
		}
	}
	if parts.Timestamp == "" || parts.V1 == "" {
		return SignatureParts{}, errMalformedHeader
	}
	if _, err := strconv.ParseInt(parts.Timestamp, 10, 64); err != nil {
		return SignatureParts{}, errMalformedHeader
	}
	return parts, nil
}

// Manifest builds the canonical string the provider signs. The layout is a wire contract.
func Manifest(dataID, requestID, ts string) string {
	return "id:" + dataID + ";request-id:" + requestID + ";ts:" + ts + ";"
}

// Sign returns the lowercase hex HMAC-SHA256 of the manifest.
func Sign(secret, dataID, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(Manifest(dataID, requestID, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

// FormatSignatureHeader renders a header that VerifySignature accepts.
func FormatSignatureHeader(ts, v1 string) string {
	return "ts=" + ts + ",v1=" + v1
}

// SignatureInput is everything needed to check one delivery.
type SignatureInput struct {
	SignatureHeader string
	RequestID       string
	DataID          string
	Secret          string
}

// VerifySignature reports whether the header carries a valid digest for the input.
// It returns false for an empty secret, missing headers, or a malformed header.
func VerifySignature(in SignatureInput) bool {
	_, ok := verify(in)
	return ok
}

func verify(in SignatureInput) (SignatureParts, bool) {
	if in.Secret == "" || in.SignatureHeader == "" || in.RequestID == "" {
		return SignatureParts{}, false
	}
	parts, err := ParseSignatureHeader(in.SignatureHeader)
	if err != nil {
		return SignatureParts{}, false
	}
	expected := Sign(in.Secret, in.DataID, in.RequestID, parts.Timestamp)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(parts.V1)) != 1 {
		return SignatureParts{}, false
	}
	return parts, true
}

// SignatureVerifier checks manifest signatures on webhook deliveries.
type SignatureVerifier struct {
	secret  string
	maxSkew time.Duration
	now     func() time.Time
}

// VerifierOption configures a SignatureVerifier.
type VerifierOption func(*SignatureVerifier)

// WithMaxSkew rejects signatures whose timestamp is further than d from now. Zero disables the check.
func WithMaxSkew(d time.Duration) VerifierOption {
	return func(v *SignatureVerifier) {
		v.maxSkew = d
	}
}

// WithClock replaces the time source used for the skew check.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *SignatureVerifier) {
		v.now = now
	}
}

// NewSignatureVerifier creates a verifier for the given shared secret.
func NewSignatureVerifier(secret string, opts ...VerifierOption) *SignatureVerifier {
	v := &SignatureVerifier{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify implements webhook.Verifier.
func (v *SignatureVerifier) Verify(d webhook.Delivery) bool {
	parts, ok := verify(SignatureInput{
		SignatureHeader: d.SignatureHeader,
		RequestID:       d.RequestID,
		DataID:          d.Notification.Data.ID.String(),
		Secret:          v.secret,
	})
	if !ok {
		return false
	}
	if v.maxSkew <= 0 {
		return true
	}

	ts, _ := strconv.ParseInt(parts.Timestamp, 10, 64)
	signedAt := time.Unix(ts, 0)
	if ts > 1e12 {
		// Millisecond timestamps.
		signedAt = time.UnixMilli(ts)
	}
	skew := v.now().Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	return skew <= v.maxSkew
}
