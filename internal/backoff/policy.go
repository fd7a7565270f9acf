// Package backoff computes exponential backoff durations with jitter for the
// agent state machine's turn-level provider retries.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the backoff duration for the first attempt, in milliseconds.
	InitialMs float64
	// MaxMs caps the computed backoff, in milliseconds.
	MaxMs float64
	// Factor is the exponential growth factor applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0-1.0) added on top of the base delay.
	Jitter float64
}

// FromConfig builds a Policy from the retry.baseBackoffMs configuration value,
// using a factor-2 exponential curve and 10% jitter, capped at 30s.
func FromConfig(baseBackoffMs int) Policy {
	return Policy{
		InitialMs: float64(baseBackoffMs),
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// Compute calculates the backoff duration for a given attempt number (1-based).
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter, not a security boundary
}

// ComputeWithRand calculates the backoff duration using a caller-supplied random
// value in [0.0, 1.0), so callers can test the formula deterministically.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}
