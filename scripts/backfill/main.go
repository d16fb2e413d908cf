// Script backfill replays a job kind over a range of past periods
// through the trigger API, with bounded concurrency. Completed periods
// are skipped by the server unless FORCE=true.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/storelytics/aggregation-engine/internal/jobs"
	"github.com/storelytics/aggregation-engine/pkg/client"
)

func main() {
	kind := getEnv("JOB_KIND", jobs.SalesAccountingKind)
	periods := getEnvInt("PERIODS", 12)
	concurrency := getEnvInt("CONCURRENCY", 4)
	force := os.Getenv("FORCE") == "true"

	loc, err := time.LoadLocation(getEnv("BUSINESS_TZ", "Europe/Istanbul"))
	if err != nil {
		log.Fatalf("load timezone: %v", err)
	}

	// Weekly jobs step back a week per period, daily jobs a day.
	step := 24 * time.Hour
	keyFor := func(t time.Time) string { return jobs.DayKey(t, loc) }
	if kind == jobs.SalesAccountingKind {
		step = 7 * 24 * time.Hour
		keyFor = func(t time.Time) string { return jobs.WeekKey(t, loc) }
	}

	var keys []string
	cursor := time.Now().In(loc).Add(-step)
	for i := 0; i < periods; i++ {
		keys = append(keys, keyFor(cursor))
		cursor = cursor.Add(-step)
	}

	fmt.Printf("backfilling %s over %d periods (concurrency=%d force=%v)\n", kind, len(keys), concurrency, force)

	c := client.New(getEnv("RUNNER_URL", "http://localhost:8080"), getEnv("TRIGGER_TOKEN", ""))
	ctx := context.Background()

	var (
		completed int64
		skipped   int64
		failed    int64
		wg        sync.WaitGroup
		sem       = make(chan struct{}, concurrency)
	)

	start := time.Now()
	for _, key := range keys {
		wg.Add(1)
		sem <- struct{}{}

		go func(periodKey string) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := c.TriggerRun(ctx, kind, periodKey, force)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				log.Printf("%s: %v", periodKey, err)
				return
			}
			switch result.Status {
			case "completed":
				atomic.AddInt64(&completed, 1)
				fmt.Printf("%s: completed\n", periodKey)
			case "skipped":
				atomic.AddInt64(&skipped, 1)
				fmt.Printf("%s: skipped (%s)\n", periodKey, result.Reason)
			default:
				atomic.AddInt64(&failed, 1)
				log.Printf("%s: failed: %s", periodKey, result.Error)
			}
		}(key)
	}
	wg.Wait()

	fmt.Printf("\ndone in %s: %d completed, %d skipped, %d failed\n",
		time.Since(start).Round(time.Millisecond), completed, skipped, failed)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}
