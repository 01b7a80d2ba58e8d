package httpserver

import (
	"net/http"
	"time"

	"github.com/CedrosPay/payguard/internal/circuitbreaker"
	"github.com/CedrosPay/payguard/pkg/responders"
)

// health reports uptime and breaker state. An open provider breaker reports degraded (503).
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	providerState := h.breakers.State(circuitbreaker.ServiceProvider)

	status := "ok"
	statusCode := http.StatusOK
	if providerState == "open" {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]any{
		"status":    status,
		"uptime":    now.Sub(serverStartTime).String(),
		"timestamp": now.UTC(),
		"provider":  h.cfg.Provider.Name,
		"circuitBreakers": map[string]any{
			string(circuitbreaker.ServiceProvider): map[string]any{
				"state":  providerState,
				"counts": h.breakers.Counts(circuitbreaker.ServiceProvider),
			},
			string(circuitbreaker.ServiceCallback): map[string]any{
				"state":  h.breakers.State(circuitbreaker.ServiceCallback),
				"counts": h.breakers.Counts(circuitbreaker.ServiceCallback),
			},
		},
	}
	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}

	responders.JSON(w, statusCode, response)
}
