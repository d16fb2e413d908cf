package storage

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storelytics/aggregation-engine/internal/committer"
)

// OutputStore implements committer.Store over one Mongo collection.
// Each batch is a single unordered bulk write of full-replacement
// upserts, so re-runs overwrite prior output for the same ids.
type OutputStore struct {
	coll *mongo.Collection
}

// NewOutputStore creates an output store for the given collection.
func NewOutputStore(coll *mongo.Collection) *OutputStore {
	return &OutputStore{coll: coll}
}

// WriteBatch persists all docs in one bulk write.
func (s *OutputStore) WriteBatch(ctx context.Context, docs []committer.Doc) error {
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		replacement := bson.M{"_id": d.ID}
		for k, v := range d.Body {
			replacement[k] = v
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": d.ID}).
			SetReplacement(replacement).
			SetUpsert(true))
	}

	_, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("bulk write output: %w", err)
	}
	return nil
}

// ListIDs returns the ids of all records under the given prefix.
func (s *OutputStore) ListIDs(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	opts := options.Find().SetProjection(bson.M{"_id": 1})

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list output ids: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode output id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate output ids: %w", err)
	}
	return ids, nil
}

// DeleteBatch removes the records with the given ids.
func (s *OutputStore) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("delete output batch: %w", err)
	}
	return nil
}
