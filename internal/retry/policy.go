// Package retry provides the backoff policy used for per-item work.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines exponential backoff with jitter between attempts of a
// single piece of per-item work. Attempt numbering starts at 1; the
// delay before the next attempt grows by Multiplier per failed attempt.
type Policy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
	JitterRatio float64       `json:"jitter_ratio"` // 0.0 to 1.0
}

// DefaultPolicy returns the backoff defaults used by per-item jobs.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		JitterRatio: 0.1,
	}
}

// NextDelay computes the delay after the given failed attempt using
// exponential backoff with jitter.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.BaseDelay
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// Apply jitter: ±JitterRatio of the delay.
	jitter := delay * p.JitterRatio * (2*rand.Float64() - 1)
	delay += jitter

	if delay < 0 {
		delay = float64(p.BaseDelay)
	}

	return time.Duration(delay)
}

// ShouldRetry reports whether another attempt should follow the given
// failed attempt number.
func (p *Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Wait sleeps for the backoff delay after the given failed attempt,
// returning early with the context error if the context is cancelled.
func (p *Policy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.NextDelay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
