package models

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds node re-execution: exponential backoff with a cap and
// a jitter ratio so simultaneous retries across runs do not align.
type RetryPolicy struct {
	MaxAttempts    int     `json:"max_attempts"     validate:"gte=1"`
	InitialDelayMS int64   `json:"initial_delay_ms" validate:"gte=0"`
	MaxDelayMS     int64   `json:"max_delay_ms"     validate:"gte=0"`
	BackoffFactor  float64 `json:"backoff_factor"   validate:"gte=1"`
	JitterRatio    float64 `json:"jitter_ratio"     validate:"gte=0,lte=1"`
}

// DefaultRetryPolicy returns the policy applied when a definition sets none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialDelayMS: 1000,
		MaxDelayMS:     int64(5 * time.Minute / time.Millisecond),
		BackoffFactor:  2.0,
		JitterRatio:    0.1,
	}
}

// OrDefault fills a zero-valued policy with defaults.
func (p RetryPolicy) OrDefault() RetryPolicy {
	if p.MaxAttempts <= 0 {
		return DefaultRetryPolicy()
	}

	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1
	}

	return p
}

// Delay computes the backoff before the given attempt (attempt >= 2;
// the first attempt never waits). Jitter spreads the result across
// [delay*(1-ratio), delay*(1+ratio)].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	base := float64(p.InitialDelayMS) * math.Pow(p.BackoffFactor, float64(attempt-2))
	if p.MaxDelayMS > 0 {
		base = math.Min(base, float64(p.MaxDelayMS))
	}

	if p.JitterRatio > 0 {
		spread := 1 - p.JitterRatio + 2*p.JitterRatio*rand.Float64()
		base *= spread
	}

	return time.Duration(base) * time.Millisecond
}

// Exhausted reports whether another attempt is allowed after the given one.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
