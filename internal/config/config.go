package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Environment: "production",
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
			MaxBodyBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Provider: ProviderConfig{
			Name:    "mercadopago",
			BaseURL: "https://api.mercadopago.com",
			Timeout: Duration{Duration: 10 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Backend:           "memory",
			WebhookLimit:      100,
			WebhookWindow:     Duration{Duration: time.Minute},
			CreatePerUser:     10,
			CreatePerUserWind: Duration{Duration: time.Minute},
			PerIPEnabled:      true,
			PerIPLimit:        120,
			PerIPWindow:       Duration{Duration: time.Minute},
		},
		Idempotency: IdempotencyConfig{
			Backend:    "memory",
			PaymentTTL: Duration{Duration: 24 * time.Hour},
			WebhookTTL: Duration{Duration: 48 * time.Hour},
			MaxEntries: 10000,
			ClaimTTL:   Duration{Duration: 30 * time.Second},
		},
		Storage: StorageConfig{
			Backend:         "memory",
			MongoDBDatabase: "payguard",
			TableName:       "payments",
		},
		Validation: ValidationConfig{
			AmountTolerance: "0.01",
		},
		Sanitizer: SanitizerConfig{
			MaxStringLength: 5000,
			MaxDepth:        10,
			MaxKeys:         100,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Provider: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Callback: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
		Callbacks: CallbacksConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 3 * time.Second},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
