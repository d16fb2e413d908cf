package aggregate

import (
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/source"
)

func salesSchema() Schema {
	return Schema{
		Key: []StringField{{Name: "seller_id", Required: true}},
		Sums: []NumberField{
			{Name: "total", Required: true},
			{Name: "quantity", Required: true},
			{Name: "commission"},
		},
		Breakdowns: []Breakdown{
			{Name: "category_revenue", By: StringField{Name: "category"}, Weight: NumberField{Name: "total"}},
		},
		SampleField: "order_id",
		SampleCap:   200,
	}
}

func orderItem(seller string, total float64, qty int, category, orderID string) source.Item {
	return source.Item{
		ID: orderID,
		Fields: map[string]any{
			"seller_id":  seller,
			"total":      total,
			"quantity":   int32(qty),
			"commission": total * 0.1,
			"category":   category,
			"order_id":   orderID,
		},
	}
}

func TestAccumulatorGroupsBySeller(t *testing.T) {
	a := NewAccumulator(salesSchema(), zap.NewNop())

	a.Ingest(orderItem("s1", 10.5, 1, "shoes", "o1"))
	a.Ingest(orderItem("s1", 20.0, 2, "bags", "o2"))
	a.Ingest(orderItem("s2", 5.0, 1, "shoes", "o3"))

	snap := a.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(snap))
	}

	s1 := snap[0]
	if s1.Key != "s1" {
		t.Fatalf("expected first bucket s1, got %s", s1.Key)
	}
	if s1.Counters["total"] != 30.5 {
		t.Errorf("expected total 30.5, got %v", s1.Counters["total"])
	}
	if s1.Counters["quantity"] != 3 {
		t.Errorf("expected quantity 3, got %v", s1.Counters["quantity"])
	}
	if s1.Items != 2 {
		t.Errorf("expected 2 items, got %d", s1.Items)
	}
	if s1.Breakdowns["category_revenue"]["shoes"] != 10.5 {
		t.Errorf("expected shoes revenue 10.5, got %v", s1.Breakdowns["category_revenue"]["shoes"])
	}
	if s1.Breakdowns["category_revenue"]["bags"] != 20.0 {
		t.Errorf("expected bags revenue 20.0, got %v", s1.Breakdowns["category_revenue"]["bags"])
	}
}

func TestAccumulatorSkipsInvalidItems(t *testing.T) {
	a := NewAccumulator(salesSchema(), zap.NewNop())

	a.Ingest(orderItem("s1", 10.0, 1, "shoes", "o1"))
	a.Ingest(source.Item{ID: "bad-1", Fields: map[string]any{"total": 5.0}})                      // no seller_id
	a.Ingest(source.Item{ID: "bad-2", Fields: map[string]any{"seller_id": "s1", "total": "oops"}}) // non-numeric total

	ingested, skipped := a.Counts()
	if ingested != 1 {
		t.Errorf("expected 1 ingested, got %d", ingested)
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", skipped)
	}
}

func TestAccumulatorBoundedSample(t *testing.T) {
	a := NewAccumulator(salesSchema(), zap.NewNop())

	for i := 0; i < 5000; i++ {
		a.Ingest(orderItem("s1", 1.0, 1, "shoes", fmt.Sprintf("o%d", i)))
	}

	snap := a.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(snap))
	}
	b := snap[0]
	if len(b.Samples) != 200 {
		t.Errorf("expected sample list capped at 200, got %d", len(b.Samples))
	}
	if b.SampleTotal != 5000 {
		t.Errorf("expected exact sample total 5000, got %d", b.SampleTotal)
	}
	if b.Items != 5000 {
		t.Errorf("expected 5000 items, got %d", b.Items)
	}
}

func TestAccumulatorRoundsOnlyAtSnapshot(t *testing.T) {
	a := NewAccumulator(Schema{
		Key:  []StringField{{Name: "k", Required: true}},
		Sums: []NumberField{{Name: "v", Required: true}},
	}, zap.NewNop())

	// 1000 x 0.001 would drift to 0 if each ingest rounded to 2dp.
	for i := 0; i < 1000; i++ {
		a.Ingest(source.Item{ID: "x", Fields: map[string]any{"k": "a", "v": 0.001}})
	}

	snap := a.Snapshot()
	if got := snap[0].Counters["v"]; got != 1.0 {
		t.Errorf("expected 1.0 after rounding at snapshot, got %v", got)
	}
}

func TestAccumulatorPaginationEquivalence(t *testing.T) {
	items := make([]source.Item, 0, 97)
	for i := 0; i < 97; i++ {
		items = append(items, orderItem(fmt.Sprintf("s%d", i%7), float64(i)*1.25, i%3+1, "shoes", fmt.Sprintf("o%d", i)))
	}

	single := NewAccumulator(salesSchema(), zap.NewNop())
	for _, it := range items {
		single.Ingest(it)
	}

	paged := NewAccumulator(salesSchema(), zap.NewNop())
	for start := 0; start < len(items); start += 10 {
		end := start + 10
		if end > len(items) {
			end = len(items)
		}
		for _, it := range items[start:end] {
			paged.Ingest(it)
		}
	}

	a, b := single.Snapshot(), paged.Snapshot()
	if len(a) != len(b) {
		t.Fatalf("bucket count mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Key != b[i].Key || a[i].Items != b[i].Items {
			t.Errorf("bucket %d mismatch: %+v vs %+v", i, a[i], b[i])
		}
		for name, v := range a[i].Counters {
			if b[i].Counters[name] != v {
				t.Errorf("bucket %s counter %s mismatch: %v vs %v", a[i].Key, name, v, b[i].Counters[name])
			}
		}
	}
}

func TestAccumulatorEmptySnapshot(t *testing.T) {
	a := NewAccumulator(salesSchema(), zap.NewNop())
	if snap := a.Snapshot(); len(snap) != 0 {
		t.Errorf("expected empty snapshot, got %d buckets", len(snap))
	}
}
