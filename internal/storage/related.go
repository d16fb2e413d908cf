package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/source"
)

// CoPurchaseComputer recomputes the related-products relation for one
// product: the products most often bought together with it in recent
// orders. Each result replaces the previous relation wholesale.
type CoPurchaseComputer struct {
	orders   *mongo.Collection
	related  *mongo.Collection
	lookback time.Duration
	topN     int
	logger   *zap.Logger
}

// NewCoPurchaseComputer creates a computer reading from orders and
// writing into the related collection.
func NewCoPurchaseComputer(orders, related *mongo.Collection, lookback time.Duration, topN int, logger *zap.Logger) *CoPurchaseComputer {
	return &CoPurchaseComputer{
		orders:   orders,
		related:  related,
		lookback: lookback,
		topN:     topN,
		logger:   logger,
	}
}

// Recompute derives and persists the relation for one scanned product.
func (c *CoPurchaseComputer) Recompute(ctx context.Context, it source.Item) error {
	since := time.Now().UTC().Add(-c.lookback)
	filter := bson.M{
		"product_ids": it.ID,
		"created_at":  bson.M{"$gte": since},
	}
	opts := options.Find().
		SetProjection(bson.M{"product_ids": 1}).
		SetLimit(1000)

	cur, err := c.orders.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("query co-purchase orders: %w", err)
	}
	defer cur.Close(ctx)

	counts := make(map[string]int64)
	for cur.Next(ctx) {
		var order struct {
			ProductIDs []string `bson:"product_ids"`
		}
		if err := cur.Decode(&order); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		for _, pid := range order.ProductIDs {
			if pid != it.ID {
				counts[pid]++
			}
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("iterate orders: %w", err)
	}

	doc := bson.M{
		"_id":         it.ID,
		"product_id":  it.ID,
		"related":     topRelated(counts, c.topN),
		"computed_at": time.Now().UTC(),
	}
	_, err = c.related.ReplaceOne(ctx,
		bson.M{"_id": it.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("write relation: %w", err)
	}
	return nil
}

// relatedEntry is one co-purchased product with its co-occurrence count.
type relatedEntry struct {
	ProductID string `bson:"product_id"`
	Count     int64  `bson:"count"`
}

func topRelated(counts map[string]int64, n int) []relatedEntry {
	entries := make([]relatedEntry, 0, len(counts))
	for pid, count := range counts {
		entries = append(entries, relatedEntry{ProductID: pid, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].ProductID < entries[j].ProductID
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
