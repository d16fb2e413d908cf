package jobs

import (
	"time"

	"github.com/storelytics/aggregation-engine/internal/aggregate"
	"github.com/storelytics/aggregation-engine/internal/committer"
	"github.com/storelytics/aggregation-engine/internal/controller"
	"github.com/storelytics/aggregation-engine/internal/source"
)

// SalesAccountingKind aggregates completed orders into weekly per-seller
// revenue documents.
const SalesAccountingKind = "sales-accounting"

// SalesAccounting builds the weekly sales accounting job. Orders are
// grouped by seller, revenue fields are summed, revenue is additionally
// broken down by product category, and a capped sample of order ids is
// kept for spot checks.
func SalesAccounting(fetcher source.Fetcher, output committer.Store, loc *time.Location) controller.Definition {
	return controller.Definition{
		Kind: SalesAccountingKind,
		Window: func(periodKey string) (source.Window, error) {
			return WeekWindow("created_at", periodKey, loc)
		},
		Fetcher: fetcher,
		Aggregate: &controller.AggregateSpec{
			Schema: aggregate.Schema{
				Key: []aggregate.StringField{
					{Name: "seller_id", Required: true},
				},
				Sums: []aggregate.NumberField{
					{Name: "total", Required: true},
					{Name: "quantity", Required: true},
					{Name: "commission"},
				},
				Breakdowns: []aggregate.Breakdown{
					{
						Name:   "category_revenue",
						By:     aggregate.StringField{Name: "category", Default: "uncategorized"},
						Weight: aggregate.NumberField{Name: "total"},
					},
				},
				SampleField: "order_id",
				SampleCap:   200,
			},
			Output: output,
		},
	}
}
