package source

import (
	"context"
	"fmt"
)

// Cursor walks a window page by page, advancing a resume token so that a
// scan can continue across invocations. A page shorter than the page size
// (including an empty page) signals exhaustion.
type Cursor struct {
	fetcher  Fetcher
	window   Window
	pageSize int

	after string
	done  bool
	pages int64
	items int64
}

// NewCursor creates a cursor over the given window.
func NewCursor(f Fetcher, w Window, pageSize int) *Cursor {
	return &Cursor{fetcher: f, window: w, pageSize: pageSize}
}

// Resume positions the cursor after a previously persisted resume token.
func (c *Cursor) Resume(token string) {
	c.after = token
}

// Next fetches the next page. It returns a nil slice once the window is
// exhausted; subsequent calls keep returning nil.
func (c *Cursor) Next(ctx context.Context) ([]Item, error) {
	if c.done {
		return nil, nil
	}

	page, err := c.fetcher.FetchPage(ctx, c.window, c.after, c.pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	if len(page) < c.pageSize {
		c.done = true
	}
	if len(page) == 0 {
		return nil, nil
	}

	c.after = page[len(page)-1].SortKey
	c.pages++
	c.items += int64(len(page))
	return page, nil
}

// Done reports whether the window has been fully scanned.
func (c *Cursor) Done() bool {
	return c.done
}

// ResumeToken returns the sort key of the last consumed item, or the
// token the cursor was resumed from if no page has been read yet.
func (c *Cursor) ResumeToken() string {
	return c.after
}

// Stats returns the number of pages and items read so far.
func (c *Cursor) Stats() (pages, items int64) {
	return c.pages, c.items
}
