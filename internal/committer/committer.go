// Package committer flushes aggregation output to the external store in
// size-bounded atomic batches.
package committer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Doc is one output record. ID must be deterministic for its content
// (kind, period and group key) so that re-runs overwrite instead of
// accumulating.
type Doc struct {
	ID   string
	Body map[string]any
}

// Store is the narrow write interface the committer needs from the
// external document store.
type Store interface {
	// WriteBatch persists all docs as one atomic batch, replacing any
	// existing records with the same ids.
	WriteBatch(ctx context.Context, docs []Doc) error

	// ListIDs returns the ids of all existing records whose id starts
	// with the given prefix.
	ListIDs(ctx context.Context, prefix string) ([]string, error)

	// DeleteBatch removes the records with the given ids.
	DeleteBatch(ctx context.Context, ids []string) error
}

// Stats summarizes a commit pass.
type Stats struct {
	Written      int64
	FailedDocs   int64
	FailedChunks int64
	DeletedStale int64
}

// Committer splits output into chunks no larger than the store's atomic
// batch limit. A chunk failure is logged and does not abort the
// remaining chunks: every record is an idempotent full replacement, so
// the next run repairs any gap.
type Committer struct {
	store     Store
	batchSize int
	logger    *zap.Logger
}

// New creates a committer writing chunks of at most batchSize docs.
func New(store Store, batchSize int, logger *zap.Logger) *Committer {
	return &Committer{store: store, batchSize: batchSize, logger: logger}
}

// Commit writes all docs in chunks. It only returns an error when every
// chunk failed, which indicates the store is down rather than a partial
// hiccup.
func (c *Committer) Commit(ctx context.Context, docs []Doc) (Stats, error) {
	var stats Stats
	if len(docs) == 0 {
		return stats, nil
	}

	chunks := 0
	for start := 0; start < len(docs); start += c.batchSize {
		end := start + c.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		chunk := docs[start:end]
		chunks++

		if err := c.store.WriteBatch(ctx, chunk); err != nil {
			stats.FailedChunks++
			stats.FailedDocs += int64(len(chunk))
			c.logger.Error("commit chunk failed",
				zap.Int("chunk_size", len(chunk)),
				zap.String("first_id", chunk[0].ID),
				zap.Error(err),
			)
			continue
		}
		stats.Written += int64(len(chunk))
	}

	if stats.FailedChunks == int64(chunks) {
		return stats, fmt.Errorf("all %d commit chunks failed", chunks)
	}
	return stats, nil
}

// Wipe deletes every existing record under the given id prefix in
// batches. Used before a forced re-run so records from a previous
// grouping scheme cannot linger.
func (c *Committer) Wipe(ctx context.Context, prefix string) (int64, error) {
	ids, err := c.store.ListIDs(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list output records: %w", err)
	}

	var deleted int64
	for start := 0; start < len(ids); start += c.batchSize {
		end := start + c.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := c.store.DeleteBatch(ctx, ids[start:end]); err != nil {
			return deleted, fmt.Errorf("delete output batch: %w", err)
		}
		deleted += int64(end - start)
	}

	if deleted > 0 {
		c.logger.Info("wiped stale output records",
			zap.String("prefix", prefix),
			zap.Int64("deleted", deleted),
		)
	}
	return deleted, nil
}
