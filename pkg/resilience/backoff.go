package resilience

import (
	"fmt"
	"math"
	"time"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/errors"
)

// BackoffPolicy computes the deterministic delay sequence used between retry attempts.
// It is an immutable value and safe to share between retriers.
type BackoffPolicy struct {
	// MaxAttempts is the total number of attempts, including the first try
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// BaseDelay is the delay that follows the first failed attempt
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
	// Multiplier scales the delay after every failed attempt
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
}

// DefaultBackoffPolicy returns a policy of 3 attempts starting at 100ms and doubling
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
	}
}

// NewBackoffPolicy creates a validated backoff policy
func NewBackoffPolicy(maxAttempts int, baseDelay time.Duration, multiplier float64) (BackoffPolicy, error) {
	p := BackoffPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Multiplier:  multiplier,
	}
	if err := p.Validate(); err != nil {
		return BackoffPolicy{}, err
	}
	return p, nil
}

// Validate checks the policy attributes
func (p BackoffPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.NewValidationError(fmt.Sprintf("max attempts must be positive, got %d", p.MaxAttempts))
	}
	if p.BaseDelay <= 0 {
		return errors.NewValidationError(fmt.Sprintf("base delay must be positive, got %s", p.BaseDelay))
	}
	if p.Multiplier < 1.0 || math.IsNaN(p.Multiplier) || math.IsInf(p.Multiplier, 0) {
		return errors.NewValidationError(fmt.Sprintf("multiplier must be a finite value >= 1.0, got %v", p.Multiplier))
	}
	return nil
}

// DelayForAttempt returns BaseDelay * Multiplier^attempt, the wait that follows
// the failure of the given 0-based attempt. Negative attempts are treated as 0
// and results that overflow are clamped to the largest representable duration.
func (p BackoffPolicy) DelayForAttempt(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay >= float64(math.MaxInt64) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

// Delays returns DelayForAttempt for every attempt index in [0, MaxAttempts).
// The last entry is never slept on because no attempt follows it.
func (p BackoffPolicy) Delays() []time.Duration {
	if p.MaxAttempts <= 0 {
		return nil
	}

	delays := make([]time.Duration, p.MaxAttempts)
	for i := range delays {
		delays[i] = p.DelayForAttempt(i)
	}
	return delays
}

// withDefaults fills zero or out-of-range fields so a retrier never runs unbounded
func (p BackoffPolicy) withDefaults() BackoffPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.Multiplier <= 0 || math.IsNaN(p.Multiplier) || math.IsInf(p.Multiplier, 0) {
		p.Multiplier = 2.0
	} else if p.Multiplier < 1.0 {
		p.Multiplier = 1.0
	}
	return p
}
