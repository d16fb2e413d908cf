package jobs

import (
	"time"

	"github.com/storelytics/aggregation-engine/internal/aggregate"
	"github.com/storelytics/aggregation-engine/internal/committer"
	"github.com/storelytics/aggregation-engine/internal/controller"
	"github.com/storelytics/aggregation-engine/internal/source"
)

// DailyEngagementKind rolls up engagement events into daily documents
// keyed by category, subcategory and audience gender.
const DailyEngagementKind = "daily-engagement"

// DailyEngagement builds the daily engagement job. Events missing a
// subcategory or gender still land in a bucket under the defaults, and
// the per-event-type counts live in a breakdown rather than sum fields
// so new event types need no schema change.
func DailyEngagement(fetcher source.Fetcher, output committer.Store, loc *time.Location) controller.Definition {
	return controller.Definition{
		Kind: DailyEngagementKind,
		Window: func(periodKey string) (source.Window, error) {
			return DayWindow("occurred_at", periodKey, loc)
		},
		Fetcher: fetcher,
		Aggregate: &controller.AggregateSpec{
			Schema: aggregate.Schema{
				Key: []aggregate.StringField{
					{Name: "category", Required: true},
					{Name: "subcategory", Default: "none"},
					{Name: "gender", Default: "unisex"},
				},
				Breakdowns: []aggregate.Breakdown{
					{
						Name: "event_counts",
						By:   aggregate.StringField{Name: "event_type", Default: "unknown"},
					},
				},
			},
			Output: output,
		},
	}
}
