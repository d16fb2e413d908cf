// Package aggregate builds grouped statistics from scanned items.
package aggregate

import (
	"fmt"
	"strings"

	"github.com/storelytics/aggregation-engine/internal/source"
)

// StringField declares a string attribute read from an item. A missing
// required field rejects the item; a missing optional field falls back
// to Default.
type StringField struct {
	Name     string
	Default  string
	Required bool
}

// NumberField declares a numeric attribute read from an item. Source
// documents may carry it as int32, int64 or float64.
type NumberField struct {
	Name     string
	Default  float64
	Required bool
}

// Breakdown declares a nested per-value counter inside each bucket. For
// every item, the value of By selects the inner key; Weight is summed
// into it. A Breakdown with an empty Weight.Name counts occurrences.
type Breakdown struct {
	Name   string
	By     StringField
	Weight NumberField
}

// Schema declares how items map onto buckets: the composite grouping
// key, the summed counters, optional nested breakdowns, and an optional
// bounded audit sample.
type Schema struct {
	Key        []StringField
	Sums       []NumberField
	Breakdowns []Breakdown

	// SampleField names the attribute collected into a capped sample
	// list per bucket; empty disables sampling. SampleCap bounds the
	// list while an exact counter keeps the true total.
	SampleField string
	SampleCap   int
}

const keySeparator = ":"

// groupKey derives the composite grouping key for an item, or an error
// naming the first missing required field.
func (s Schema) groupKey(it source.Item) (string, error) {
	parts := make([]string, 0, len(s.Key))
	for _, f := range s.Key {
		v, err := stringValue(it, f)
		if err != nil {
			return "", err
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, keySeparator), nil
}

func stringValue(it source.Item, f StringField) (string, error) {
	raw, ok := it.Fields[f.Name]
	if !ok || raw == nil {
		if f.Required {
			return "", fmt.Errorf("missing required field %q", f.Name)
		}
		return f.Default, nil
	}
	v, ok := raw.(string)
	if !ok || v == "" {
		if f.Required {
			return "", fmt.Errorf("field %q is not a non-empty string", f.Name)
		}
		return f.Default, nil
	}
	return v, nil
}

func numberValue(it source.Item, f NumberField) (float64, error) {
	raw, ok := it.Fields[f.Name]
	if !ok || raw == nil {
		if f.Required {
			return 0, fmt.Errorf("missing required field %q", f.Name)
		}
		return f.Default, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		if f.Required {
			return 0, fmt.Errorf("field %q is not numeric", f.Name)
		}
		return f.Default, nil
	}
}
