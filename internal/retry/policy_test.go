package retry

import (
	"context"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxAttempts != 3 {
		t.Errorf("expected max_attempts 3, got %d", p.MaxAttempts)
	}
	if p.BaseDelay != 200*time.Millisecond {
		t.Errorf("expected base_delay 200ms, got %s", p.BaseDelay)
	}
}

func TestNextDelay_ExponentialGrowth(t *testing.T) {
	p := &Policy{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		JitterRatio: 0, // Disable jitter for deterministic testing.
	}

	delays := make([]time.Duration, 5)
	for i := 1; i <= 4; i++ {
		delays[i] = p.NextDelay(i)
	}

	// With no jitter and multiplier=2, the delay doubles per failed attempt.
	if delays[1] != 100*time.Millisecond {
		t.Errorf("attempt 1: expected 100ms, got %s", delays[1])
	}
	if delays[2] != 200*time.Millisecond {
		t.Errorf("attempt 2: expected 200ms, got %s", delays[2])
	}
	if delays[3] != 400*time.Millisecond {
		t.Errorf("attempt 3: expected 400ms, got %s", delays[3])
	}
	if delays[4] != 800*time.Millisecond {
		t.Errorf("attempt 4: expected 800ms, got %s", delays[4])
	}
}

func TestNextDelay_MaxDelayCap(t *testing.T) {
	p := &Policy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    5 * time.Second,
		Multiplier:  10.0,
		JitterRatio: 0,
	}

	delay := p.NextDelay(5)
	if delay > 5*time.Second {
		t.Errorf("delay %s exceeds max_delay 5s", delay)
	}
}

func TestNextDelay_WithJitter(t *testing.T) {
	p := &Policy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
		JitterRatio: 0.1,
	}

	// Run multiple times to verify jitter produces varying results.
	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := p.NextDelay(2)
		seen[d] = true
	}

	if len(seen) < 2 {
		t.Error("expected jitter to produce varying delays")
	}
}

func TestShouldRetry(t *testing.T) {
	p := &Policy{MaxAttempts: 3}

	tests := []struct {
		attempt int
		want    bool
	}{
		{1, true},
		{2, true},
		{3, false},
		{4, false},
	}

	for _, tt := range tests {
		got := p.ShouldRetry(tt.attempt)
		if got != tt.want {
			t.Errorf("ShouldRetry(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWait_CancelledContext(t *testing.T) {
	p := &Policy{BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := p.Wait(ctx, 1)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("expected Wait to return promptly on cancelled context")
	}
}
