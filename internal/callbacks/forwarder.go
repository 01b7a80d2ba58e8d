package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/CedrosPay/payguard/internal/circuitbreaker"
	"github.com/CedrosPay/payguard/internal/config"
	"github.com/CedrosPay/payguard/internal/httputil"
)

// Forwarder POSTs payment updates as JSON to a configured URL.
type Forwarder struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	breakers   *circuitbreaker.Manager
	logger     zerolog.Logger
}

// Option customizes a Forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger for delivery results.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Forwarder) { f.logger = logger }
}

// WithBreakers routes deliveries through the callback circuit breaker.
func WithBreakers(m *circuitbreaker.Manager) Option {
	return func(f *Forwarder) { f.breakers = m }
}

// NewForwarder returns a Forwarder, or a NoopNotifier when no update URL is configured.
func NewForwarder(cfg config.CallbacksConfig, opts ...Option) Notifier {
	if cfg.UpdateURL == "" {
		return NoopNotifier{}
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	f := &Forwarder{
		url:        cfg.UpdateURL,
		headers:    cfg.Headers,
		httpClient: httputil.NewClient(timeout),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Notify delivers the update once. Failed deliveries are returned, not retried.
func (f *Forwarder) Notify(ctx context.Context, update PaymentUpdate) error {
	PrepareUpdate(&update)

	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("callbacks: marshal update: %w", err)
	}

	start := time.Now()
	err = f.breakers.Run(circuitbreaker.ServiceCallback, func() error {
		return f.send(ctx, payload)
	})

	evt := f.logger.Info()
	if err != nil {
		evt = f.logger.Warn().Err(err)
	}
	evt.Str("event_id", update.EventID).
		Str("payment_id", update.Payment.ID).
		Str("status", update.Status).
		Dur("duration", time.Since(start)).
		Msg("callbacks.update_forwarded")
	return err
}

func (f *Forwarder) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("callbacks: build request: %w", err)
	}

	contentType := "application/json"
	for k, v := range f.headers {
		if k == "" {
			continue
		}
		if strings.EqualFold(k, "content-type") {
			contentType = v
			continue
		}
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callbacks: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("callbacks: received status %d from %s", resp.StatusCode, f.url)
	}
	return nil
}

// SendOnce posts a single update without a breaker, for operator tooling.
func SendOnce(ctx context.Context, cfg config.CallbacksConfig, update PaymentUpdate) error {
	if cfg.UpdateURL == "" {
		return ErrCallbackDisabled
	}
	return NewForwarder(cfg).Notify(ctx, update)
}
