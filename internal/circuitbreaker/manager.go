package circuitbreaker

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/CedrosPay/payguard/internal/config"
)

// ServiceType identifies an outbound dependency with its own breaker.
type ServiceType string

const (
	ServiceProvider ServiceType = "payment_provider"
	ServiceCallback ServiceType = "update_callback"
)

// Manager keeps one breaker per outbound dependency so a failing callback
// endpoint cannot open the provider breaker and the reverse.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
}

// Config holds breaker configuration for all services.
type Config struct {
	Enabled  bool
	Provider BreakerConfig
	Callback BreakerConfig

	// IsSuccessful classifies errors that should not count as failures,
	// such as a 404 from the provider. Nil counts every error.
	IsSuccessful func(error) bool
	Logger       zerolog.Logger
}

// BreakerConfig configures a single breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears closed-state counts. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig builds a manager from the application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig, logger zerolog.Logger, isSuccessful func(error) bool) *Manager {
	return NewManager(Config{
		Enabled:      cfg.Enabled,
		Provider:     fromServiceConfig(cfg.Provider),
		Callback:     fromServiceConfig(cfg.Callback),
		IsSuccessful: isSuccessful,
		Logger:       logger,
	})
}

func fromServiceConfig(c config.BreakerServiceConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval.Duration,
		Timeout:             c.Timeout.Duration,
		ConsecutiveFailures: c.ConsecutiveFailures,
		FailureRatio:        c.FailureRatio,
		MinRequests:         c.MinRequests,
	}
}

// NewManager creates a manager. A disabled manager passes every call through.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}
	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceProvider] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceProvider), cfg.Provider, cfg))
	m.breakers[ServiceCallback] = gobreaker.NewCircuitBreaker(toSettings(string(ServiceCallback), cfg.Callback, cfg))
	return m
}

// Execute runs fn behind the breaker for service.
func (m *Manager) Execute(service ServiceType, fn func() (any, error)) (any, error) {
	if m == nil || !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// Run is Execute for calls without a result.
func (m *Manager) Run(service ServiceType, fn func() error) error {
	_, err := m.Execute(service, func() (any, error) {
		return nil, fn()
	})
	return err
}

// State returns the breaker state, "disabled", or "not_configured".
func (m *Manager) State(service ServiceType) string {
	if m == nil || !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

// Counts returns the current counts for a breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if m == nil || !m.enabled {
		return Counts{}
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents breaker statistics.
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"totalSuccesses"`
	TotalFailures        uint32 `json:"totalFailures"`
	ConsecutiveSuccesses uint32 `json:"consecutiveSuccesses"`
	ConsecutiveFailures  uint32 `json:"consecutiveFailures"`
}

// IsOpen reports whether err was produced by an open or saturated breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func toSettings(name string, cfg BreakerConfig, global Config) gobreaker.Settings {
	logger := global.Logger
	return gobreaker.Settings{
		Name:         name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: global.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuitbreaker.state_changed")
		},
	}
}

// DefaultConfig returns the defaults used when no config file is present.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Provider: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		Callback: BreakerConfig{
			MaxRequests:         5,
			Interval:            60 * time.Second,
			Timeout:             60 * time.Second,
			ConsecutiveFailures: 10,
			FailureRatio:        0.7,
			MinRequests:         20,
		},
		Logger: zerolog.Nop(),
	}
}
