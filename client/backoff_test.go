package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	policy := BackoffPolicy{
		Initial: 250 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}

	tests := []struct {
		name    string
		attempt int
		random  float64
		want    time.Duration
	}{
		{"first attempt no jitter", 1, 0, 250 * time.Millisecond},
		{"first attempt full jitter", 1, 1, 275 * time.Millisecond},
		{"second attempt doubles", 2, 0, 500 * time.Millisecond},
		{"fourth attempt", 4, 0, 2 * time.Second},
		{"capped at max", 12, 0, 30 * time.Second},
		{"jitter never exceeds max", 12, 1, 30 * time.Second},
		{"attempt zero treated as first", 0, 0, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.backoff(tt.attempt, tt.random))
		})
	}
}

func TestDefaultBackoffPolicy(t *testing.T) {
	policy := DefaultBackoffPolicy()
	assert.Equal(t, 250*time.Millisecond, policy.Initial)
	assert.Equal(t, 30*time.Second, policy.Max)

	for attempt := 1; attempt < 20; attempt++ {
		d := policy.Backoff(attempt)
		assert.GreaterOrEqual(t, d, policy.Initial)
		assert.LessOrEqual(t, d, policy.Max)
	}
}
