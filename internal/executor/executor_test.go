package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/retry"
	"github.com/storelytics/aggregation-engine/internal/source"
)

func fastPolicy(maxAttempts int) *retry.Policy {
	return &retry.Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func makeItems(n int) []source.Item {
	items := make([]source.Item, n)
	for i := range items {
		items[i] = source.Item{ID: fmt.Sprintf("p-%03d", i), SortKey: fmt.Sprintf("%03d", i)}
	}
	return items
}

func serialConfig() Config {
	return Config{
		Concurrency:      1,
		ItemTimeout:      time.Second,
		BreakerThreshold: 3,
		MaxFailureRatio:  0.10,
	}
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	e := New(serialConfig(), fastPolicy(1), zap.NewNop())

	var attempted int
	action := func(context.Context, source.Item) error {
		attempted++
		return errors.New("downstream is down")
	}

	err := e.ProcessPage(context.Background(), makeItems(10), action, nil)
	if !errors.Is(err, ErrBreakerTripped) {
		t.Fatalf("expected ErrBreakerTripped, got %v", err)
	}

	if attempted != 3 {
		t.Errorf("expected processing to stop at 3 items, got %d", attempted)
	}
	s := e.Stats()
	if s.Processed != 3 || s.Failed != 3 {
		t.Errorf("unexpected stats: %+v", s)
	}

	// A tripped executor refuses further pages.
	if err := e.ProcessPage(context.Background(), makeItems(5), action, nil); !errors.Is(err, ErrBreakerTripped) {
		t.Errorf("expected tripped executor to refuse new pages, got %v", err)
	}
	if attempted != 3 {
		t.Errorf("expected no further attempts after trip, got %d", attempted)
	}
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	e := New(serialConfig(), fastPolicy(1), zap.NewNop())

	// Two failures, one success, two failures: never 3 in a row.
	outcomes := []bool{false, false, true, false, false, true}
	i := 0
	action := func(context.Context, source.Item) error {
		fail := !outcomes[i]
		i++
		if fail {
			return errors.New("isolated failure")
		}
		return nil
	}

	err := e.ProcessPage(context.Background(), makeItems(len(outcomes)), action, nil)
	if err != nil {
		t.Fatalf("expected run to finish without tripping, got %v", err)
	}

	s := e.Stats()
	if s.Processed != 6 || s.Failed != 4 || s.Succeeded != 2 {
		t.Errorf("unexpected stats: %+v", s)
	}
	// 4/6 failures is over the 10% budget even though the breaker held.
	if !e.ExceedsFailureBudget() {
		t.Error("expected failure budget to be exceeded")
	}
}

func TestFailureBudgetWithinLimit(t *testing.T) {
	cfg := serialConfig()
	cfg.MaxFailureRatio = 0.5
	e := New(cfg, fastPolicy(1), zap.NewNop())

	i := 0
	action := func(context.Context, source.Item) error {
		i++
		if i%4 == 0 {
			return errors.New("occasional failure")
		}
		return nil
	}

	if err := e.ProcessPage(context.Background(), makeItems(8), action, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ExceedsFailureBudget() {
		t.Errorf("2/8 failures should be within the 50%% budget: %+v", e.Stats())
	}
}

func TestRetriesBeforeCountingFailure(t *testing.T) {
	e := New(serialConfig(), fastPolicy(3), zap.NewNop())

	attempts := make(map[string]int)
	action := func(_ context.Context, it source.Item) error {
		attempts[it.ID]++
		if attempts[it.ID] < 3 {
			return errors.New("transient")
		}
		return nil
	}

	if err := e.ProcessPage(context.Background(), makeItems(2), action, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := e.Stats()
	if s.Succeeded != 2 || s.Failed != 0 {
		t.Errorf("expected retries to recover both items, got %+v", s)
	}
	for id, n := range attempts {
		if n != 3 {
			t.Errorf("item %s: expected 3 attempts, got %d", id, n)
		}
	}
}

func TestSkippedItemsExcludedFromStats(t *testing.T) {
	e := New(serialConfig(), fastPolicy(1), zap.NewNop())

	skip := func(_ context.Context, it source.Item) (bool, error) {
		n, _ := strconv.Atoi(it.SortKey)
		return n%2 == 0, nil
	}
	action := func(context.Context, source.Item) error { return nil }

	if err := e.ProcessPage(context.Background(), makeItems(10), action, skip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := e.Stats()
	if s.Skipped != 5 {
		t.Errorf("expected 5 skipped, got %d", s.Skipped)
	}
	if s.Processed != 5 {
		t.Errorf("expected skipped items excluded from processed, got %d", s.Processed)
	}
}

func TestPerItemTimeout(t *testing.T) {
	cfg := serialConfig()
	cfg.ItemTimeout = 10 * time.Millisecond
	e := New(cfg, fastPolicy(1), zap.NewNop())

	action := func(ctx context.Context, _ source.Item) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	if err := e.ProcessPage(context.Background(), makeItems(1), action, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := e.Stats(); s.Failed != 1 {
		t.Errorf("expected slow item to fail by timeout, got %+v", s)
	}
}

func TestBoundedConcurrency(t *testing.T) {
	cfg := Config{
		Concurrency:      3,
		ItemTimeout:      time.Second,
		BreakerThreshold: 100,
		MaxFailureRatio:  1,
	}
	e := New(cfg, fastPolicy(1), zap.NewNop())

	var mu sync.Mutex
	current, peak := 0, 0
	action := func(context.Context, source.Item) error {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil
	}

	if err := e.ProcessPage(context.Background(), makeItems(20), action, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak > 3 {
		t.Errorf("expected at most 3 concurrent items, observed %d", peak)
	}
	if s := e.Stats(); s.Succeeded != 20 {
		t.Errorf("expected all 20 items processed, got %+v", s)
	}
}
