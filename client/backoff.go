package client

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy defines the parameters for capped exponential backoff
// between reconnect attempts.
type BackoffPolicy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the
	// base delay.
	Jitter float64
}

// DefaultBackoffPolicy returns the policy used when none is configured.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial: 250 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Backoff computes the delay for the given attempt. Attempts start at 1.
func (p BackoffPolicy) Backoff(attempt int) time.Duration {
	return p.backoff(attempt, rand.Float64())
}

// backoff takes the random value as a parameter so tests can be
// deterministic. random is expected to be in [0.0, 1.0).
func (p BackoffPolicy) backoff(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitter := base * p.Jitter * random
	return time.Duration(math.Min(float64(p.Max), base+jitter))
}
