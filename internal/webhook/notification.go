// Package webhook defines the inbound notification shapes shared by provider adapters,
// signature verifiers and the processing pipeline.
package webhook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// TypePayment is the only notification type that mutates payment state.
const TypePayment = "payment"

// Notification is the untrusted payload a provider posts when a payment changes.
type Notification struct {
	ID          FlexString `json:"id"`
	Type        string     `json:"type"`
	Action      string     `json:"action"`
	Data        Data       `json:"data"`
	DateCreated time.Time  `json:"date_created"`
	LiveMode    bool       `json:"live_mode"`
	UserID      FlexString `json:"user_id"`
	APIVersion  string     `json:"api_version,omitempty"`
}

// Data carries the provider resource id the notification refers to.
type Data struct {
	ID FlexString `json:"id"`
}

// Delivery is one HTTP delivery of a notification together with its signature material.
type Delivery struct {
	Notification    Notification
	SignatureHeader string
	RequestID       string
	Body            []byte
	ReceivedAt      time.Time
}

// Verifier decides whether a delivery was produced by the provider.
// Implementations never fail; any malformed input yields false.
type Verifier interface {
	Verify(d Delivery) bool
}

// FlexString decodes JSON strings and numbers into a string.
// Providers are inconsistent about whether ids are quoted.
type FlexString string

// UnmarshalJSON accepts "123", 123 and null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the decoded value.
func (f FlexString) String() string {
	return string(f)
}

// Int64 parses the value as a base-10 integer.
func (f FlexString) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(f), 10, 64)
	return n, err == nil
}
