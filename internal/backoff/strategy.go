package backoff

import "time"

// Strategy answers "retry after how long, or give up". The attempt
// counter is owned by the caller and is per logical message, not per
// stream: a retried stream re-enters with the counter advanced.
type Strategy interface {
	// Delay returns the wait before the given attempt (1-indexed) and
	// whether a retry should happen at all. A false second return means
	// the strategy is exhausted. err is the failure that triggered the
	// retry, for strategies that inspect it.
	Delay(attempt int, err error) (time.Duration, bool)
}

// Exponential is a Strategy built on an exponential Policy with a fixed
// attempt budget.
type Exponential struct {
	Policy      Policy
	MaxAttempts int
}

// NewExponential returns an exponential strategy with the default policy
// and the given attempt budget.
func NewExponential(maxAttempts int) *Exponential {
	return &Exponential{Policy: DefaultPolicy(), MaxAttempts: maxAttempts}
}

// Delay implements Strategy.
func (e *Exponential) Delay(attempt int, _ error) (time.Duration, bool) {
	if attempt < 1 || (e.MaxAttempts > 0 && attempt > e.MaxAttempts) {
		return 0, false
	}
	return Compute(e.Policy, attempt), true
}
