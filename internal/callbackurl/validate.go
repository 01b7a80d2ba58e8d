// Package callbackurl allow-lists redirect and notification URLs handed to the provider.
package callbackurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Options are the explicit inputs that relax validation.
type Options struct {
	// AllowInsecure additionally accepts http. Only set outside production.
	AllowInsecure bool
}

var (
	errEmpty       = errors.New("callback url empty")
	errMissingHost = errors.New("callback url missing host")
)

// Validate reports whether raw may be used as a callback URL.
func Validate(raw string, allowedHosts []string, opts Options) bool {
	return Check(raw, allowedHosts, opts) == nil
}

// Check is Validate with the rejection reason.
func Check(raw string, allowedHosts []string, opts Options) error {
	if strings.TrimSpace(raw) == "" {
		return errEmpty
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse callback url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !opts.AllowInsecure {
			return errors.New("callback url must use https")
		}
	case "":
		return errors.New("callback url missing scheme")
	default:
		return fmt.Errorf("unsupported callback url scheme %q", u.Scheme)
	}

	if u.User != nil {
		return errors.New("callback url must not carry credentials")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errMissingHost
	}
	if !HostAllowed(host, allowedHosts) {
		return fmt.Errorf("callback host %q not allowed", host)
	}
	return nil
}

// HostAllowed matches host against exact entries and `*.domain` wildcards.
// A wildcard matches the bare domain and any subdomain of it.
func HostAllowed(host string, allowedHosts []string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, entry := range allowedHosts {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if domain, ok := strings.CutPrefix(entry, "*."); ok {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}
