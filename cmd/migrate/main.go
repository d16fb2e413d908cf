// Command migrate creates the MongoDB indexes the runner relies on.
// Safe to rerun: index creation is idempotent.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/storelytics/aggregation-engine/internal/storage"
)

func main() {
	uri := getEnv("MONGO_URI", "mongodb://localhost:27017")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := storage.Connect(ctx, uri)
	if err != nil {
		log.Fatalf("connect to mongodb: %v", err)
	}
	defer client.Disconnect(context.Background())

	db := client.Database(getEnv("MONGO_DB", "storelytics"))

	indexes := map[string][]mongo.IndexModel{
		// Window scans sort on the range field, so each source
		// collection gets an index on it.
		"orders": {
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
			// Co-purchase recompute filters by product membership
			// within the lookback window.
			{Keys: bson.D{{Key: "product_ids", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		"engagement_events": {
			{Keys: bson.D{{Key: "occurred_at", Value: 1}}},
		},
		"products": {
			{Keys: bson.D{{Key: "updated_at", Value: 1}}},
		},
		"job_checkpoints": {
			{Keys: bson.D{{Key: "updated_at", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		names, err := db.Collection(coll).Indexes().CreateMany(ctx, models)
		if err != nil {
			log.Fatalf("create indexes on %s: %v", coll, err)
		}
		fmt.Printf("%s: created indexes %v\n", coll, names)
	}

	fmt.Println("indexes created successfully")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
