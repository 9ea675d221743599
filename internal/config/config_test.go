package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adolago/agent-core-sub009/internal/guard"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/sessions.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("retry.max_attempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.Backoff.InitialMs != 500 {
		t.Errorf("retry.backoff.initial_ms = %v, want 500", cfg.Retry.Backoff.InitialMs)
	}
	if cfg.Guard.Threshold != guard.DefaultThreshold {
		t.Errorf("guard.threshold = %d, want %d", cfg.Guard.Threshold, guard.DefaultThreshold)
	}
	if cfg.Guard.Policy != guard.PolicyDeny {
		t.Errorf("guard.policy = %q, want deny", cfg.Guard.Policy)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test")
	path := writeConfig(t, `
provider:
  api_key: ${TEST_API_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "sk-test" {
		t.Errorf("provider.api_key = %q, want sk-test", cfg.Provider.APIKey)
	}
}

func TestLoadParsesPricing(t *testing.T) {
	path := writeConfig(t, `
pricing:
  claude-sonnet-4-20250514:
    input: 3.0
    output: 15.0
    cache_read: 0.3
    cache_write: 3.75
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	p := cfg.PricingFor("claude-sonnet-4-20250514")
	if p.Input != 3.0 || p.Output != 15.0 {
		t.Errorf("pricing = %+v", p)
	}
	if zero := cfg.PricingFor("unknown-model"); zero.Input != 0 || zero.Output != 0 {
		t.Errorf("unpriced model should return zero table, got %+v", zero)
	}
}

func TestLoadValidatesGuardPolicy(t *testing.T) {
	path := writeConfig(t, `
guard:
  policy: sometimes
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "guard.policy") {
		t.Fatalf("expected guard.policy error, got %v", err)
	}
}

func TestLoadValidatesBackoff(t *testing.T) {
	path := writeConfig(t, `
retry:
  backoff:
    initial_ms: 100
    max_ms: 5000
    factor: 0.5
    jitter: 0.1
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "factor") {
		t.Fatalf("expected factor error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestRetryStrategyExhaustion(t *testing.T) {
	cfg := Default()
	strategy := cfg.Retry.Strategy()
	if _, ok := strategy.Delay(3, nil); !ok {
		t.Error("attempt 3 should be within budget")
	}
	if _, ok := strategy.Delay(4, nil); ok {
		t.Error("attempt 4 should exhaust the default budget")
	}
}
