// Command runner starts the aggregation job runner: the trigger API,
// the cron schedules and the metrics endpoint in one process.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/cache"
	"github.com/storelytics/aggregation-engine/internal/controller"
	"github.com/storelytics/aggregation-engine/internal/executor"
	"github.com/storelytics/aggregation-engine/internal/jobs"
	"github.com/storelytics/aggregation-engine/internal/metrics"
	"github.com/storelytics/aggregation-engine/internal/retry"
	"github.com/storelytics/aggregation-engine/internal/storage"
	"github.com/storelytics/aggregation-engine/internal/tracing"
	"github.com/storelytics/aggregation-engine/internal/trigger"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize tracing.
	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	shutdownTracer, err := tracing.Init(ctx, "aggregation-runner", otlpEndpoint)
	if err != nil {
		logger.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownTracer(ctx)
	}

	// All period keys resolve in the business timezone, regardless of
	// where the process runs.
	loc, err := time.LoadLocation(getEnv("BUSINESS_TZ", "Europe/Istanbul"))
	if err != nil {
		logger.Fatal("load business timezone", zap.Error(err))
	}

	// Connect to MongoDB.
	mongoURI := getEnv("MONGO_URI", "mongodb://localhost:27017")
	client, err := storage.Connect(ctx, mongoURI)
	if err != nil {
		logger.Fatal("connect to mongodb", zap.Error(err))
	}
	defer client.Disconnect(context.Background())
	db := client.Database(getEnv("MONGO_DB", "storelytics"))

	// Connect to Redis for the freshness cache.
	rdb := redis.NewClient(&redis.Options{
		Addr:         getEnv("REDIS_URL", "localhost:6379"),
		PoolSize:     50,
		MinIdleConns: 10,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New()
	repo := storage.NewMongoJobRepository(db, logger)

	cfg := controller.DefaultConfig()
	cfg.PageSize = getEnvInt("PAGE_SIZE", cfg.PageSize)
	cfg.BatchSize = getEnvInt("BATCH_SIZE", cfg.BatchSize)
	cfg.Staleness = getEnvDuration("LOCK_STALENESS", cfg.Staleness)
	runner := controller.New(repo, cfg, m, logger)

	runner.Register(jobs.SalesAccounting(
		storage.NewCollectionFetcher(db.Collection("orders")),
		storage.NewOutputStore(db.Collection("seller_weekly_reports")),
		loc,
	))
	runner.Register(jobs.DailyEngagement(
		storage.NewCollectionFetcher(db.Collection("engagement_events")),
		storage.NewOutputStore(db.Collection("daily_engagement_reports")),
		loc,
	))

	computer := storage.NewCoPurchaseComputer(
		db.Collection("orders"),
		db.Collection("related_products"),
		getEnvDuration("RELATED_LOOKBACK", 90*24*time.Hour),
		getEnvInt("RELATED_TOP_N", 20),
		logger,
	)
	fresh := cache.NewFreshnessCache(rdb, getEnvDuration("FRESHNESS_TTL", 20*time.Hour), logger)
	runner.Register(jobs.RelatedProducts(
		storage.NewCollectionFetcher(db.Collection("products")),
		computer,
		fresh,
		executor.DefaultConfig(),
		retry.DefaultPolicy(),
		loc,
		logger,
	))

	// Cron schedules target the previous closed period.
	sched := trigger.NewScheduler(runner, loc, logger)
	schedules := []trigger.Schedule{
		{
			Kind: jobs.SalesAccountingKind,
			Spec: getEnv("SALES_CRON", "0 4 * * 1"),
			PeriodKey: func(now time.Time) string {
				return jobs.PreviousWeekKey(now, loc)
			},
		},
		{
			Kind: jobs.DailyEngagementKind,
			Spec: getEnv("ENGAGEMENT_CRON", "30 3 * * *"),
			PeriodKey: func(now time.Time) string {
				return jobs.PreviousDayKey(now, loc)
			},
		},
		{
			Kind: jobs.RelatedProductsKind,
			Spec: getEnv("RELATED_CRON", "0 2 * * *"),
			PeriodKey: func(now time.Time) string {
				return jobs.PreviousDayKey(now, loc)
			},
		},
	}
	for _, s := range schedules {
		if err := sched.Add(s); err != nil {
			logger.Fatal("register schedule", zap.String("kind", s.Kind), zap.Error(err))
		}
	}
	sched.Start()
	defer sched.Stop()

	// Trigger API and metrics.
	auth := trigger.NewTokenAuthorizer(getEnv("TRIGGER_TOKEN", ""))
	handler := trigger.NewHandler(runner, repo, auth, logger)

	r := mux.NewRouter()
	handler.Routes(r)
	r.Handle("/metrics", promhttp.Handler())

	addr := getEnv("RUNNER_ADDR", ":8080")
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute, // synchronous runs can be long
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("runner starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down runner")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
