// Package source provides ordered, paginated access to external collections.
package source

import (
	"context"
	"time"
)

// Window bounds a scan to a closed time range on a single sort field.
// Items are read in ascending order of that field.
type Window struct {
	Field string
	From  time.Time
	To    time.Time
}

// Item is one decoded document from a source collection. SortKey is the
// serialized value of the window's sort field and doubles as the resume
// token once the item has been consumed.
type Item struct {
	ID      string
	SortKey string
	Fields  map[string]any
}

// Fetcher reads one ordered page from an external collection. startAfter
// is the SortKey of the last item of the previous page, or empty for the
// first page. Implementations must return items strictly after startAfter
// in sort order, never more than limit.
type Fetcher interface {
	FetchPage(ctx context.Context, w Window, startAfter string, limit int) ([]Item, error)
}
