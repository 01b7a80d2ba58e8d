package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClientWithHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := NewClientWithHeaders(time.Second, map[string]string{
		"Authorization": "Bearer fixed",
		"X-Tenant":      "acme",
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("X-Tenant", "override")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if got.Get("Authorization") != "Bearer fixed" {
		t.Errorf("Authorization = %q", got.Get("Authorization"))
	}
	if got.Get("X-Tenant") != "override" {
		t.Errorf("request header should win, got %q", got.Get("X-Tenant"))
	}
	if got.Get("User-Agent") != UserAgent {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}
	if req.Header.Get("Authorization") != "" {
		t.Error("caller request was mutated")
	}
}
