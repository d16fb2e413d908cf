package storage

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/storelytics/aggregation-engine/internal/source"
)

func TestToItem(t *testing.T) {
	oid := primitive.NewObjectID()
	created := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	raw := bson.M{
		"_id":         oid,
		"created_at":  primitive.DateTime(created.UnixMilli()),
		"seller_id":   "s1",
		"total":       int32(42),
		"product_ids": primitive.A{"p1", "p2"},
	}

	it, err := toItem(raw, "created_at")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if it.ID != oid.Hex() {
		t.Errorf("expected object id hex, got %s", it.ID)
	}
	if it.SortKey != created.Format(time.RFC3339Nano)+"|"+oid.Hex() {
		t.Errorf("unexpected sort key: %s", it.SortKey)
	}
	if it.Fields["seller_id"] != "s1" {
		t.Errorf("unexpected seller_id: %v", it.Fields["seller_id"])
	}
	if _, ok := it.Fields["_id"]; ok {
		t.Error("expected _id excluded from fields")
	}
	ids, ok := it.Fields["product_ids"].([]any)
	if !ok || len(ids) != 2 {
		t.Errorf("expected normalized array, got %T", it.Fields["product_ids"])
	}
}

func TestToItemMissingSortField(t *testing.T) {
	if _, err := toItem(bson.M{"_id": "x"}, "created_at"); err == nil {
		t.Fatal("expected error for missing sort field")
	}
}

func TestParseResumeToken(t *testing.T) {
	ts := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)

	after, id, err := parseResumeToken(ts.Format(time.RFC3339Nano) + "|order-0500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !after.Equal(ts) {
		t.Errorf("unexpected timestamp: %v", after)
	}
	if id != "order-0500" {
		t.Errorf("expected string id, got %v (%T)", id, id)
	}

	oid := primitive.NewObjectID()
	_, id, err = parseResumeToken(ts.Format(time.RFC3339Nano) + "|" + oid.Hex())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := id.(primitive.ObjectID); !ok || got != oid {
		t.Errorf("expected object id restored, got %v (%T)", id, id)
	}

	for _, tok := range []string{"", "no-separator", "not-a-time|x"} {
		if _, _, err := parseResumeToken(tok); err == nil {
			t.Errorf("token %q: expected error", tok)
		}
	}
}

func TestPageFilterBoundaryTies(t *testing.T) {
	w := source.Window{
		Field: "created_at",
		From:  time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		To:    time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}

	// No token: plain half-open range.
	filter, err := pageFilter(w, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rng, ok := filter["created_at"].(bson.M)
	if !ok || !rng["$gte"].(time.Time).Equal(w.From) || !rng["$lt"].(time.Time).Equal(w.To) {
		t.Fatalf("unexpected window filter: %v", filter)
	}

	// A page ending on a shared timestamp must still admit the tied
	// documents with greater ids on the next page.
	boundary := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	filter, err = pageFilter(w, boundary.Format(time.RFC3339Nano)+"|order-0500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	or, ok := filter["$or"].(bson.A)
	if !ok || len(or) != 2 {
		t.Fatalf("expected two-branch $or, got %v", filter)
	}
	later := or[0].(bson.M)["created_at"].(bson.M)
	if !later["$gt"].(time.Time).Equal(boundary) {
		t.Errorf("unexpected strict branch: %v", or[0])
	}
	tied := or[1].(bson.M)
	if !tied["created_at"].(time.Time).Equal(boundary) {
		t.Errorf("unexpected tie branch timestamp: %v", or[1])
	}
	if tied["_id"].(bson.M)["$gt"] != "order-0500" {
		t.Errorf("unexpected tie branch id bound: %v", or[1])
	}
	if ub, ok := filter["created_at"].(bson.M); !ok || !ub["$lt"].(time.Time).Equal(w.To) {
		t.Errorf("upper bound missing: %v", filter)
	}
}

func TestTopRelated(t *testing.T) {
	counts := map[string]int64{
		"p1": 5,
		"p2": 9,
		"p3": 5,
		"p4": 1,
	}

	top := topRelated(counts, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(top))
	}
	if top[0].ProductID != "p2" {
		t.Errorf("expected p2 first, got %s", top[0].ProductID)
	}
	// Ties break deterministically by product id.
	if top[1].ProductID != "p1" || top[2].ProductID != "p3" {
		t.Errorf("unexpected tie order: %s, %s", top[1].ProductID, top[2].ProductID)
	}
}

func TestTopRelatedEmpty(t *testing.T) {
	if top := topRelated(nil, 10); len(top) != 0 {
		t.Errorf("expected empty result, got %d", len(top))
	}
}
