package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storelytics/aggregation-engine/internal/source"
)

// CollectionFetcher implements source.Fetcher over one Mongo
// collection. Pages are ordered by the compound key (window time field,
// _id): the time field alone is not unique, so ordering and resuming on
// it alone could skip or repeat documents sharing a boundary timestamp.
// The resume token pairs both parts as "<RFC3339Nano>|<id>".
type CollectionFetcher struct {
	coll *mongo.Collection
}

// NewCollectionFetcher creates a fetcher for the given collection.
func NewCollectionFetcher(coll *mongo.Collection) *CollectionFetcher {
	return &CollectionFetcher{coll: coll}
}

// FetchPage reads up to limit documents within the window, strictly
// after startAfter when set.
func (f *CollectionFetcher) FetchPage(ctx context.Context, w source.Window, startAfter string, limit int) ([]source.Item, error) {
	filter, err := pageFilter(w, startAfter)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: w.Field, Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := f.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find page: %w", err)
	}
	defer cur.Close(ctx)

	var items []source.Item
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		it, err := toItem(raw, w.Field)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate page: %w", err)
	}
	return items, nil
}

// pageFilter builds the window query. A resume token turns the lower
// bound into a compound boundary: strictly later timestamps, or the
// boundary timestamp with a strictly greater _id, so documents tied on
// the timestamp are neither skipped nor repeated across pages.
func pageFilter(w source.Window, startAfter string) (bson.M, error) {
	if startAfter == "" {
		return bson.M{w.Field: bson.M{"$gte": w.From, "$lt": w.To}}, nil
	}

	after, id, err := parseResumeToken(startAfter)
	if err != nil {
		return nil, err
	}
	return bson.M{
		w.Field: bson.M{"$lt": w.To},
		"$or": bson.A{
			bson.M{w.Field: bson.M{"$gt": after}},
			bson.M{w.Field: after, "_id": bson.M{"$gt": id}},
		},
	}, nil
}

// parseResumeToken splits a "<RFC3339Nano>|<id>" token. Hex ids are
// restored to ObjectIDs so the _id comparison matches the stored type.
func parseResumeToken(token string) (time.Time, any, error) {
	tsPart, idPart, ok := strings.Cut(token, "|")
	if !ok {
		return time.Time{}, nil, fmt.Errorf("malformed resume token %q", token)
	}
	ts, err := time.Parse(time.RFC3339Nano, tsPart)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("parse resume token: %w", err)
	}
	if oid, err := primitive.ObjectIDFromHex(idPart); err == nil {
		return ts, oid, nil
	}
	return ts, idPart, nil
}

// toItem converts a raw document into a source.Item, normalizing BSON
// driver types into plain Go values for schema extraction.
func toItem(raw bson.M, sortField string) (source.Item, error) {
	it := source.Item{Fields: make(map[string]any, len(raw))}

	switch id := raw["_id"].(type) {
	case primitive.ObjectID:
		it.ID = id.Hex()
	case string:
		it.ID = id
	default:
		it.ID = fmt.Sprintf("%v", id)
	}

	sortVal, err := asTime(raw[sortField])
	if err != nil {
		return source.Item{}, fmt.Errorf("document %s: sort field %q: %w", it.ID, sortField, err)
	}
	it.SortKey = sortVal.UTC().Format(time.RFC3339Nano) + "|" + it.ID

	for k, v := range raw {
		if k == "_id" {
			continue
		}
		it.Fields[k] = normalize(v)
	}
	return it, nil
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time(), nil
	case time.Time:
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("not a timestamp: %T", v)
	}
}

func normalize(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}
