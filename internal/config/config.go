// Package config loads and validates the processor configuration from
// YAML, with environment variable expansion.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/adolago/agent-core-sub009/internal/backoff"
	"github.com/adolago/agent-core-sub009/internal/guard"
	"github.com/adolago/agent-core-sub009/internal/observability"
	"github.com/adolago/agent-core-sub009/internal/usage"
)

// Config is the main configuration structure for the processor.
type Config struct {
	Database DatabaseConfig           `yaml:"database"`
	Retry    RetryConfig              `yaml:"retry"`
	Guard    GuardConfig              `yaml:"guard"`
	Pricing  map[string]usage.Pricing `yaml:"pricing"`
	Provider ProviderConfig           `yaml:"provider"`
	Logging  observability.LogConfig  `yaml:"logging"`
	Tracing  observability.TraceConfig `yaml:"tracing"`
}

// DatabaseConfig configures the session store.
type DatabaseConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory store.
	Path string `yaml:"path"`
}

// RetryConfig configures retry behavior for transient provider failures.
type RetryConfig struct {
	// MaxAttempts bounds retries per logical message. Zero means
	// unlimited.
	MaxAttempts int            `yaml:"max_attempts"`
	Backoff     backoff.Policy `yaml:"backoff"`
}

// Strategy builds the retry strategy described by the configuration.
func (c RetryConfig) Strategy() backoff.Strategy {
	return &backoff.Exponential{Policy: c.Backoff, MaxAttempts: c.MaxAttempts}
}

// GuardConfig configures the doom-loop guard.
type GuardConfig struct {
	Threshold int          `yaml:"threshold"`
	Policy    guard.Policy `yaml:"policy"`
}

// Guard builds the guard described by the configuration.
func (c GuardConfig) Guard() *guard.Guard {
	return &guard.Guard{Threshold: c.Threshold, Policy: c.Policy}
}

// ProviderConfig configures the model provider adapter.
type ProviderConfig struct {
	// APIKey authenticates with the provider. Usually set via
	// ${ANTHROPIC_API_KEY} expansion.
	APIKey string `yaml:"api_key"`
	// Model is the default model identifier.
	Model string `yaml:"model"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`
	// MaxTokens caps generation length per request.
	MaxTokens int64 `yaml:"max_tokens"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.Backoff == (backoff.Policy{}) {
		cfg.Retry.Backoff = backoff.DefaultPolicy()
	}
	if cfg.Guard.Threshold == 0 {
		cfg.Guard.Threshold = guard.DefaultThreshold
	}
	if cfg.Guard.Policy == "" {
		cfg.Guard.Policy = guard.PolicyDeny
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 8192
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if !c.Guard.Policy.Valid() {
		return fmt.Errorf("guard.policy must be one of allow, ask, deny; got %q", c.Guard.Policy)
	}
	if c.Guard.Threshold < 1 {
		return fmt.Errorf("guard.threshold must be at least 1; got %d", c.Guard.Threshold)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative; got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Backoff.InitialMs <= 0 {
		return fmt.Errorf("retry.backoff.initial_ms must be positive; got %v", c.Retry.Backoff.InitialMs)
	}
	if c.Retry.Backoff.Factor < 1 {
		return fmt.Errorf("retry.backoff.factor must be at least 1; got %v", c.Retry.Backoff.Factor)
	}
	if c.Retry.Backoff.Jitter < 0 || c.Retry.Backoff.Jitter > 1 {
		return fmt.Errorf("retry.backoff.jitter must be in [0, 1]; got %v", c.Retry.Backoff.Jitter)
	}
	for model, pricing := range c.Pricing {
		if pricing.Input < 0 || pricing.Output < 0 || pricing.CacheRead < 0 || pricing.CacheWrite < 0 {
			return fmt.Errorf("pricing for %q must not contain negative rates", model)
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be in [0, 1]; got %v", c.Tracing.SamplingRate)
	}
	return nil
}

// PricingFor returns the pricing table for a model, or a zero table when
// the model is unpriced.
func (c *Config) PricingFor(model string) usage.Pricing {
	if c == nil {
		return usage.Pricing{}
	}
	return c.Pricing[model]
}
