package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/CedrosPay/payguard/internal/metrics"
)

func TestDefaultHTTPConfig(t *testing.T) {
	cfg := DefaultHTTPConfig()
	if !cfg.PerIPEnabled {
		t.Error("Expected per-IP rate limiting to be enabled by default")
	}
	if cfg.PerIPLimit != 120 {
		t.Errorf("Expected per-IP limit 120, got %d", cfg.PerIPLimit)
	}
}

func TestIPLimiter_Disabled(t *testing.T) {
	handler := IPLimiter(HTTPConfig{PerIPEnabled: false})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payments/v1/preferences", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestIPLimiter_EnforcesLimit(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	handler := IPLimiter(HTTPConfig{
		PerIPEnabled: true,
		PerIPLimit:   3,
		PerIPWindow:  time.Minute,
		Metrics:      m,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payments/v1/preferences", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 3; i++ {
		if w := send("10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, w.Code)
		}
	}

	w := send("10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 after limit exceeded, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}

	if w := send("10.0.0.2"); w.Code != http.StatusOK {
		t.Errorf("other IP should not be limited, got %d", w.Code)
	}

	if got := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues(ScopePerIP)); got != 1 {
		t.Errorf("per_ip rate limit hits = %v, want 1", got)
	}
}
