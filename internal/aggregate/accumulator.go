package aggregate

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/source"
)

// Bucket holds the running totals for one grouping key. Counters stay
// unrounded while the scan is in flight; rounding happens once, at
// Snapshot, so rounding error never compounds across items.
type Bucket struct {
	Key         string                        `json:"key"`
	Items       int64                         `json:"items"`
	Counters    map[string]float64            `json:"counters"`
	Breakdowns  map[string]map[string]float64 `json:"breakdowns,omitempty"`
	Samples     []string                      `json:"samples,omitempty"`
	SampleTotal int64                         `json:"sample_total,omitempty"`
}

// Accumulator ingests items into keyed buckets according to a Schema.
// It belongs to exactly one run; the job lock guarantees no concurrent
// mutation, so no internal locking is needed.
type Accumulator struct {
	schema  Schema
	buckets map[string]*Bucket
	logger  *zap.Logger

	ingested int64
	skipped  int64
}

// NewAccumulator creates an empty accumulator for the given schema.
func NewAccumulator(s Schema, logger *zap.Logger) *Accumulator {
	return &Accumulator{
		schema:  s,
		buckets: make(map[string]*Bucket),
		logger:  logger,
	}
}

// Ingest folds one item into its bucket. Items missing a required field
// are skipped with a log line rather than failing the run.
func (a *Accumulator) Ingest(it source.Item) {
	key, err := a.schema.groupKey(it)
	if err != nil {
		a.skipped++
		a.logger.Warn("skipping item with invalid grouping fields",
			zap.String("item_id", it.ID),
			zap.Error(err),
		)
		return
	}

	// Validate all numeric fields before touching the bucket so a bad
	// item never leaves a partial increment behind.
	sums := make([]float64, len(a.schema.Sums))
	for i, f := range a.schema.Sums {
		v, err := numberValue(it, f)
		if err != nil {
			a.skipped++
			a.logger.Warn("skipping item with invalid numeric field",
				zap.String("item_id", it.ID),
				zap.Error(err),
			)
			return
		}
		sums[i] = v
	}

	b, ok := a.buckets[key]
	if !ok {
		b = &Bucket{
			Key:      key,
			Counters: make(map[string]float64, len(a.schema.Sums)),
		}
		a.buckets[key] = b
	}

	for i, f := range a.schema.Sums {
		b.Counters[f.Name] += sums[i]
	}

	for _, bd := range a.schema.Breakdowns {
		inner, err := stringValue(it, bd.By)
		if err != nil || inner == "" {
			continue
		}
		weight := 1.0
		if bd.Weight.Name != "" {
			w, err := numberValue(it, bd.Weight)
			if err != nil {
				continue
			}
			weight = w
		}
		if b.Breakdowns == nil {
			b.Breakdowns = make(map[string]map[string]float64)
		}
		if b.Breakdowns[bd.Name] == nil {
			b.Breakdowns[bd.Name] = make(map[string]float64)
		}
		b.Breakdowns[bd.Name][inner] += weight
	}

	if a.schema.SampleField != "" {
		if raw, ok := it.Fields[a.schema.SampleField].(string); ok && raw != "" {
			b.SampleTotal++
			if len(b.Samples) < a.schema.SampleCap {
				b.Samples = append(b.Samples, raw)
			}
		}
	}

	b.Items++
	a.ingested++
}

// Snapshot returns the buckets ordered by key, with every counter and
// breakdown weight rounded to two decimals. The accumulator is not
// consumed; callers discard it after the run.
func (a *Accumulator) Snapshot() []Bucket {
	out := make([]Bucket, 0, len(a.buckets))
	for _, b := range a.buckets {
		rounded := Bucket{
			Key:         b.Key,
			Items:       b.Items,
			Counters:    make(map[string]float64, len(b.Counters)),
			Samples:     b.Samples,
			SampleTotal: b.SampleTotal,
		}
		for name, v := range b.Counters {
			rounded.Counters[name] = round2(v)
		}
		if b.Breakdowns != nil {
			rounded.Breakdowns = make(map[string]map[string]float64, len(b.Breakdowns))
			for name, inner := range b.Breakdowns {
				m := make(map[string]float64, len(inner))
				for k, v := range inner {
					m[k] = round2(v)
				}
				rounded.Breakdowns[name] = m
			}
		}
		out = append(out, rounded)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Counts returns how many items were ingested and how many were skipped
// for failing schema validation.
func (a *Accumulator) Counts() (ingested, skipped int64) {
	return a.ingested, a.skipped
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
