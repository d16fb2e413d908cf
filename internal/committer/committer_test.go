package committer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// fakeStore keeps records in memory and can fail specific write batches.
type fakeStore struct {
	records     map[string]map[string]any
	writeCalls  int
	failBatches map[int]bool // 1-based write call numbers to fail
	failList    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:     make(map[string]map[string]any),
		failBatches: make(map[int]bool),
	}
}

func (s *fakeStore) WriteBatch(_ context.Context, docs []Doc) error {
	s.writeCalls++
	if s.failBatches[s.writeCalls] {
		return errors.New("batch write refused")
	}
	for _, d := range docs {
		s.records[d.ID] = d.Body
	}
	return nil
}

func (s *fakeStore) ListIDs(_ context.Context, prefix string) ([]string, error) {
	if s.failList {
		return nil, errors.New("list refused")
	}
	var ids []string
	for id := range s.records {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) DeleteBatch(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

func makeDocs(prefix string, n int) []Doc {
	docs := make([]Doc, n)
	for i := range docs {
		docs[i] = Doc{
			ID:   fmt.Sprintf("%s:g%03d", prefix, i),
			Body: map[string]any{"n": i},
		}
	}
	return docs
}

func TestCommitChunking(t *testing.T) {
	store := newFakeStore()
	c := New(store, 10, zap.NewNop())

	stats, err := c.Commit(context.Background(), makeDocs("sales:2026-W35", 25))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.writeCalls != 3 {
		t.Errorf("expected 3 write batches, got %d", store.writeCalls)
	}
	if stats.Written != 25 {
		t.Errorf("expected 25 written, got %d", stats.Written)
	}
	if len(store.records) != 25 {
		t.Errorf("expected 25 records in store, got %d", len(store.records))
	}
}

func TestCommitPartialFailureContinues(t *testing.T) {
	store := newFakeStore()
	store.failBatches[2] = true
	c := New(store, 10, zap.NewNop())

	stats, err := c.Commit(context.Background(), makeDocs("sales:2026-W35", 30))
	if err != nil {
		t.Fatalf("partial chunk failure must not abort the commit: %v", err)
	}

	if store.writeCalls != 3 {
		t.Errorf("expected all 3 batches attempted, got %d", store.writeCalls)
	}
	if stats.Written != 20 {
		t.Errorf("expected 20 written, got %d", stats.Written)
	}
	if stats.FailedChunks != 1 || stats.FailedDocs != 10 {
		t.Errorf("expected 1 failed chunk of 10 docs, got %+v", stats)
	}
}

func TestCommitAllChunksFailed(t *testing.T) {
	store := newFakeStore()
	store.failBatches[1] = true
	store.failBatches[2] = true
	c := New(store, 10, zap.NewNop())

	_, err := c.Commit(context.Background(), makeDocs("sales:2026-W35", 20))
	if err == nil {
		t.Fatal("expected error when every chunk fails")
	}
}

func TestCommitEmpty(t *testing.T) {
	store := newFakeStore()
	c := New(store, 10, zap.NewNop())

	stats, err := c.Commit(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Written != 0 || store.writeCalls != 0 {
		t.Errorf("expected no writes for empty input, got %+v", stats)
	}
}

func TestWipeThenWriteRemovesOldGrouping(t *testing.T) {
	store := newFakeStore()
	c := New(store, 10, zap.NewNop())

	// First run wrote per-seller groups.
	if _, err := c.Commit(context.Background(), makeDocs("sales:2026-W35", 25)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Another identity's output must survive the wipe.
	if _, err := c.Commit(context.Background(), makeDocs("sales:2026-W34", 5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deleted, err := c.Wipe(context.Background(), "sales:2026-W35")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 25 {
		t.Errorf("expected 25 deleted, got %d", deleted)
	}

	newDocs := []Doc{
		{ID: "sales:2026-W35:cat:shoes", Body: map[string]any{"n": 1}},
		{ID: "sales:2026-W35:cat:bags", Body: map[string]any{"n": 2}},
	}
	if _, err := c.Commit(context.Background(), newDocs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids, err := store.ListIDs(context.Background(), "sales:2026-W35")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected only the new grouping's 2 records, got %d", len(ids))
	}
	if len(store.records) != 7 {
		t.Errorf("expected sibling identity untouched (7 total records), got %d", len(store.records))
	}
}

func TestWipeListFailure(t *testing.T) {
	store := newFakeStore()
	store.failList = true
	c := New(store, 10, zap.NewNop())

	if _, err := c.Wipe(context.Background(), "sales:2026-W35"); err == nil {
		t.Fatal("expected error when listing fails")
	}
}
