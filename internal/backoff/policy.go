// Package backoff provides the retry delay contract used by the message
// processor, with an exponential implementation with jitter.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the delay after the first failure, in milliseconds.
	InitialMs float64 `yaml:"initial_ms"`
	// MaxMs caps the computed delay, in milliseconds.
	MaxMs float64 `yaml:"max_ms"`
	// Factor is the exponential factor applied per attempt.
	Factor float64 `yaml:"factor"`
	// Jitter is the randomization factor (0.0 to 1.0) added on top.
	Jitter float64 `yaml:"jitter"`
}

// DefaultPolicy returns the policy used for provider retries.
// Initial: 500ms, Max: 30s, Factor: 2, Jitter: 10%.
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 500,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// Compute calculates the delay for a given attempt number. Attempts start
// at 1. The formula is base = initialMs * factor^(attempt-1) plus a
// jitter share of base, clamped to MaxMs.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // jitter does not need crypto randomness
}

// ComputeWithRand calculates the delay using a provided random value in
// [0.0, 1.0). Tests use it for deterministic results.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}
