package httputil

import (
	"net/http"
	"time"
)

// UserAgent is sent on every outbound request.
const UserAgent = "payguard/1.0"

// NewClient creates an HTTP client with pooled connections and the given overall timeout.
func NewClient(timeout time.Duration) *http.Client {
	return NewClientWithHeaders(timeout, nil)
}

// NewClientWithHeaders creates a client that sets headers on every request
// unless the request already carries them.
func NewClientWithHeaders(timeout time.Duration, headers map[string]string) *http.Client {
	fixed := make(http.Header, len(headers)+1)
	fixed.Set("User-Agent", UserAgent)
	for k, v := range headers {
		fixed.Set(k, v)
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &headerTransport{
			base: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			headers: fixed,
		},
	}
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	for k, vs := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header[k] = vs
		}
	}
	return t.base.RoundTrip(req)
}
