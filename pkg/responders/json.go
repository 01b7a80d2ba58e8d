// Package responders writes JSON responses for the HTTP layer and embedding routers.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes an application/json response with status code and payload.
// A nil payload writes only the status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// Received acknowledges a webhook delivery. Providers only look at the status code.
func Received(w http.ResponseWriter) {
	JSON(w, http.StatusOK, map[string]bool{"received": true})
}
