// Script seed loads sample orders, engagement events and products into
// MongoDB for development, then triggers one run of each job kind.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/storelytics/aggregation-engine/internal/jobs"
	"github.com/storelytics/aggregation-engine/internal/storage"
	"github.com/storelytics/aggregation-engine/pkg/client"
)

var (
	sellers    = []string{"seller-a", "seller-b", "seller-c", "seller-d"}
	categories = []string{"shoes", "bags", "dresses", "accessories"}
	events     = []string{"view", "click", "add_to_cart", "purchase"}
	genders    = []string{"women", "men", "unisex"}
)

func main() {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	uri := getEnv("MONGO_URI", "mongodb://localhost:27017")
	mc, err := storage.Connect(ctx, uri)
	if err != nil {
		log.Fatalf("connect to mongodb: %v", err)
	}
	defer mc.Disconnect(context.Background())
	db := mc.Database(getEnv("MONGO_DB", "storelytics"))

	loc, err := time.LoadLocation(getEnv("BUSINESS_TZ", "Europe/Istanbul"))
	if err != nil {
		log.Fatalf("load timezone: %v", err)
	}
	now := time.Now().In(loc)
	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	lastWeek := now.AddDate(0, 0, -7)

	// Orders spread over last week, with overlapping product sets so the
	// related-products job has co-purchases to find.
	var orders []interface{}
	for i := 0; i < 200; i++ {
		products := []string{
			fmt.Sprintf("prod-%03d", rng.Intn(30)),
			fmt.Sprintf("prod-%03d", rng.Intn(30)),
		}
		orders = append(orders, bson.M{
			"_id":         fmt.Sprintf("order-%04d", i),
			"seller_id":   sellers[rng.Intn(len(sellers))],
			"category":    categories[rng.Intn(len(categories))],
			"product_ids": products,
			"total":       float64(rng.Intn(20000)) / 100,
			"quantity":    float64(1 + rng.Intn(4)),
			"commission":  float64(rng.Intn(2000)) / 100,
			"order_id":    fmt.Sprintf("order-%04d", i),
			"created_at":  lastWeek.Add(time.Duration(rng.Intn(7*24)) * time.Hour),
		})
	}
	if _, err := db.Collection("orders").InsertMany(ctx, orders); err != nil {
		log.Fatalf("seed orders: %v", err)
	}
	fmt.Printf("seeded %d orders\n", len(orders))

	// Engagement events for yesterday.
	var evts []interface{}
	for i := 0; i < 500; i++ {
		evts = append(evts, bson.M{
			"category":    categories[rng.Intn(len(categories))],
			"subcategory": fmt.Sprintf("sub-%d", rng.Intn(3)),
			"gender":      genders[rng.Intn(len(genders))],
			"event_type":  events[rng.Intn(len(events))],
			"occurred_at": yesterday.Add(time.Duration(rng.Intn(24*60)) * time.Minute),
		})
	}
	if _, err := db.Collection("engagement_events").InsertMany(ctx, evts); err != nil {
		log.Fatalf("seed engagement events: %v", err)
	}
	fmt.Printf("seeded %d engagement events\n", len(evts))

	// Products touched yesterday, so a related-products run picks them up.
	var products []interface{}
	for i := 0; i < 30; i++ {
		products = append(products, bson.M{
			"_id":        fmt.Sprintf("prod-%03d", i),
			"name":       fmt.Sprintf("Product %d", i),
			"category":   categories[i%len(categories)],
			"updated_at": yesterday.Add(time.Duration(rng.Intn(24)) * time.Hour),
		})
	}
	if _, err := db.Collection("products").InsertMany(ctx, products); err != nil {
		log.Fatalf("seed products: %v", err)
	}
	fmt.Printf("seeded %d products\n", len(products))

	// Trigger one run of each job through the API.
	c := client.New(getEnv("RUNNER_URL", "http://localhost:8080"), getEnv("TRIGGER_TOKEN", ""))
	runs := []struct {
		kind   string
		period string
	}{
		{jobs.SalesAccountingKind, jobs.PreviousWeekKey(now, loc)},
		{jobs.DailyEngagementKind, jobs.PreviousDayKey(now, loc)},
		{jobs.RelatedProductsKind, jobs.PreviousDayKey(now, loc)},
	}
	for _, r := range runs {
		result, err := c.TriggerRun(ctx, r.kind, r.period, false)
		if err != nil {
			log.Printf("trigger %s %s: %v", r.kind, r.period, err)
			continue
		}
		fmt.Printf("%s %s: %s", r.kind, r.period, result.Status)
		if result.Summary != nil {
			fmt.Printf(" (%d items, %d groups)", result.Summary.ItemsScanned, result.Summary.GroupsWritten)
		}
		fmt.Println()
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
