// Package executor runs side-effecting per-item work with bounded
// concurrency, per-item retries and a consecutive-failure circuit
// breaker.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/retry"
	"github.com/storelytics/aggregation-engine/internal/source"
)

// ErrBreakerTripped aborts a run once too many items have failed in a
// row, distinguishing a systemic outage from isolated errors.
var ErrBreakerTripped = errors.New("circuit breaker tripped: consecutive item failures reached threshold")

// Action performs the side-effecting work for one item.
type Action func(ctx context.Context, it source.Item) error

// SkipCheck reports whether an item should be skipped without doing any
// work (e.g. it was already freshly processed). Skipped items count in
// neither the failure ratio nor checkpoint advancement.
type SkipCheck func(ctx context.Context, it source.Item) (bool, error)

// Config bounds a per-item run.
type Config struct {
	Concurrency      int
	ItemTimeout      time.Duration
	BreakerThreshold int
	MaxFailureRatio  float64
}

// DefaultConfig returns the per-item execution defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      4,
		ItemTimeout:      10 * time.Second,
		BreakerThreshold: 10,
		MaxFailureRatio:  0.10,
	}
}

// Stats counts the outcome of every item handed to the executor.
// Processed covers items actually attempted (skips excluded).
type Stats struct {
	Processed int64
	Succeeded int64
	Failed    int64
	Skipped   int64
}

// Executor executes per-item actions for one run. Breaker state spans
// pages, so a single Executor must be created per run and not reused.
type Executor struct {
	cfg    Config
	policy *retry.Policy
	logger *zap.Logger

	mu          sync.Mutex
	consecutive int
	tripped     bool
	stats       Stats
}

// New creates an executor for one run.
func New(cfg Config, policy *retry.Policy, logger *zap.Logger) *Executor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Executor{cfg: cfg, policy: policy, logger: logger}
}

// ProcessPage runs the action over one page of items with bounded
// concurrency. It returns ErrBreakerTripped once the consecutive
// failure threshold is reached; remaining items are not attempted.
func (e *Executor) ProcessPage(ctx context.Context, items []source.Item, action Action, skip SkipCheck) error {
	if e.isTripped() {
		return ErrBreakerTripped
	}

	pageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan source.Item)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range work {
				if pageCtx.Err() != nil {
					return
				}
				e.processItem(pageCtx, cancel, it, action, skip)
			}
		}()
	}

feed:
	for _, it := range items {
		select {
		case work <- it:
		case <-pageCtx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	if e.isTripped() {
		return ErrBreakerTripped
	}
	return ctx.Err()
}

// processItem attempts one item with timeout and backoff, then folds
// the outcome into the shared breaker state.
func (e *Executor) processItem(ctx context.Context, trip context.CancelFunc, it source.Item, action Action, skip SkipCheck) {
	if skip != nil {
		skipIt, err := skip(ctx, it)
		if err != nil {
			// A broken skip check must not lose the item; attempt it.
			e.logger.Warn("skip check failed, processing item anyway",
				zap.String("item_id", it.ID),
				zap.Error(err),
			)
		} else if skipIt {
			e.mu.Lock()
			e.stats.Skipped++
			e.mu.Unlock()
			return
		}
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		attemptCtx, cancelAttempt := context.WithTimeout(ctx, e.cfg.ItemTimeout)
		lastErr = action(attemptCtx, it)
		cancelAttempt()

		if lastErr == nil || ctx.Err() != nil || !e.policy.ShouldRetry(attempt) {
			break
		}
		if err := e.policy.Wait(ctx, attempt); err != nil {
			break
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Processed++
	if lastErr == nil {
		e.stats.Succeeded++
		e.consecutive = 0
		return
	}

	e.stats.Failed++
	e.consecutive++
	e.logger.Warn("item failed after retries",
		zap.String("item_id", it.ID),
		zap.Int("consecutive_failures", e.consecutive),
		zap.Error(lastErr),
	)

	if !e.tripped && e.consecutive >= e.cfg.BreakerThreshold {
		e.tripped = true
		e.logger.Error("circuit breaker tripped, aborting run",
			zap.Int("threshold", e.cfg.BreakerThreshold),
		)
		trip()
	}
}

// Stats returns a copy of the cumulative counters for this run.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ExceedsFailureBudget reports whether the failure share of the
// attempted (non-skipped) items exceeds the configured ratio. Used
// after a run finishes to fail it even when the breaker never tripped.
func (e *Executor) ExceedsFailureBudget() bool {
	s := e.Stats()
	if s.Processed == 0 {
		return false
	}
	return float64(s.Failed)/float64(s.Processed) > e.cfg.MaxFailureRatio
}

func (e *Executor) isTripped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tripped
}
