package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/cache"
	"github.com/storelytics/aggregation-engine/internal/controller"
	"github.com/storelytics/aggregation-engine/internal/executor"
	"github.com/storelytics/aggregation-engine/internal/retry"
	"github.com/storelytics/aggregation-engine/internal/source"
	"github.com/storelytics/aggregation-engine/internal/storage"
)

// RelatedProductsKind recomputes co-purchase recommendations for
// products whose catalog entries changed during the period.
const RelatedProductsKind = "related-products"

// Recomputer recomputes the related-products document for one item.
type Recomputer interface {
	Recompute(ctx context.Context, it source.Item) error
}

var _ Recomputer = (*storage.CoPurchaseComputer)(nil)

// RelatedProducts builds the per-item related-products job. Each product
// in the window gets its recommendation document recomputed, unless the
// freshness cache says a recent run already covered it. Cache errors are
// never fatal: a failed freshness check falls through to recomputing and
// a failed mark only costs a redundant recompute next run.
func RelatedProducts(fetcher source.Fetcher, computer Recomputer, fresh *cache.FreshnessCache, execCfg executor.Config, policy *retry.Policy, loc *time.Location, logger *zap.Logger) controller.Definition {
	action := func(ctx context.Context, it source.Item) error {
		if err := computer.Recompute(ctx, it); err != nil {
			return err
		}
		if fresh != nil {
			if err := fresh.MarkFresh(ctx, RelatedProductsKind, it.ID); err != nil {
				logger.Warn("mark product fresh",
					zap.String("product_id", it.ID),
					zap.Error(err))
			}
		}
		return nil
	}

	var skip executor.SkipCheck
	var reset func(ctx context.Context) error
	if fresh != nil {
		reset = func(ctx context.Context) error {
			return fresh.Invalidate(ctx, RelatedProductsKind)
		}
		skip = func(ctx context.Context, it source.Item) (bool, error) {
			ok, err := fresh.IsFresh(ctx, RelatedProductsKind, it.ID)
			if err != nil {
				logger.Warn("freshness check",
					zap.String("product_id", it.ID),
					zap.Error(err))
				return false, nil
			}
			return ok, nil
		}
	}

	return controller.Definition{
		Kind: RelatedProductsKind,
		Window: func(periodKey string) (source.Window, error) {
			return DayWindow("updated_at", periodKey, loc)
		},
		Fetcher: fetcher,
		PerItem: &controller.PerItemSpec{
			Action: action,
			Skip:   skip,
			Reset:  reset,
			Exec:   execCfg,
			Policy: policy,
		},
	}
}
