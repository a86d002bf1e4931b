package core

import (
	"math"
	"math/rand"
	"time"
)

// Defaults applied when a policy leaves a field unset.
const (
	DefaultMaxAttempts = 5
	defaultBaseDelay   = 30 * time.Second
	defaultMultiplier  = 2.0
	defaultMaxDelay    = 1 * time.Hour
	defaultJitterPct   = 0.2
)

// RetryPolicy controls retry scheduling for a job type. Policies are
// configured at registration time, never inside handlers.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	JitterPct   float64 // fraction of the delay, 0 <= j < 1
}

// DefaultRetryPolicy returns the engine-wide default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		Multiplier:  defaultMultiplier,
		MaxDelay:    defaultMaxDelay,
		JitterPct:   defaultJitterPct,
	}
}

// Validate checks the policy for use at registration time.
func (p RetryPolicy) Validate() *EngineError {
	if p.MaxAttempts < 1 {
		return NewValidationError("retry policy max_attempts must be at least 1", nil)
	}
	if p.BaseDelay <= 0 {
		return NewValidationError("retry policy base_delay must be positive", nil)
	}
	if p.Multiplier < 1.0 {
		return NewValidationError("retry policy multiplier must be at least 1.0", nil)
	}
	if p.MaxDelay < p.BaseDelay {
		return NewValidationError("retry policy max_delay must be at least base_delay", nil)
	}
	if p.JitterPct < 0 || p.JitterPct >= 1 {
		return NewValidationError("retry policy jitter_pct must be in [0, 1)", nil)
	}
	return nil
}

// Delay returns the backoff before the next run after the given failed
// attempt (0-based). The undecorated delay is
// min(max_delay, base_delay * multiplier^attempt); jitter then scales it
// by a uniform factor in [1-jitter_pct, 1+jitter_pct].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = defaultMultiplier
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	d := maxDelay
	if raw := float64(base) * math.Pow(mult, float64(attempt)); raw < float64(maxDelay) {
		d = time.Duration(raw)
	}

	if p.JitterPct > 0 {
		span := p.JitterPct * float64(d)
		d = time.Duration(float64(d) - span + 2*span*rand.Float64())
	}
	if d < 0 {
		d = 0
	}
	return d
}

// NextRunAt returns the wall-clock time of the retry after the given
// failed attempt.
func (p RetryPolicy) NextRunAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
