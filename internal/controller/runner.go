package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/aggregate"
	"github.com/storelytics/aggregation-engine/internal/committer"
	"github.com/storelytics/aggregation-engine/internal/executor"
	"github.com/storelytics/aggregation-engine/internal/jobrun"
	"github.com/storelytics/aggregation-engine/internal/metrics"
	"github.com/storelytics/aggregation-engine/internal/retry"
	"github.com/storelytics/aggregation-engine/internal/source"
)

var tracer = otel.Tracer("aggregation-engine/controller")

// Config bounds every run executed by a Runner.
type Config struct {
	PageSize        int
	BatchSize       int
	CheckpointEvery int64
	Staleness       time.Duration
}

// DefaultConfig returns the run defaults: Firestore-sized write batches
// and a staleness window generous enough for a full invocation budget.
func DefaultConfig() Config {
	return Config{
		PageSize:        500,
		BatchSize:       500,
		CheckpointEvery: 1000,
		Staleness:       30 * time.Minute,
	}
}

// Runner owns the job lifecycle state machine. One Runner serves all
// registered job kinds; distinct identities may run concurrently, the
// per-identity lease keeps each identity single-writer.
type Runner struct {
	repo    jobrun.Repository
	defs    map[string]Definition
	cfg     Config
	holder  string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a runner with a unique lock holder identity.
func New(repo jobrun.Repository, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Runner {
	return &Runner{
		repo:    repo,
		defs:    make(map[string]Definition),
		cfg:     cfg,
		holder:  fmt.Sprintf("runner-%s", uuid.New().String()[:8]),
		metrics: m,
		logger:  logger,
	}
}

// Register adds a job definition. Kinds must be registered before the
// first trigger fires.
func (r *Runner) Register(def Definition) {
	r.defs[def.Kind] = def
}

// Registered reports whether a job kind has a definition.
func (r *Runner) Registered(kind string) bool {
	_, ok := r.defs[kind]
	return ok
}

// Run executes one job identity end to end and always returns a
// structured result: completed, skipped (with a reason code) or failed
// (with the captured error message).
func (r *Runner) Run(ctx context.Context, req Request) Result {
	id := jobrun.Identity{Kind: req.Kind, PeriodKey: req.PeriodKey}
	logger := r.logger.With(
		zap.String("kind", id.Kind),
		zap.String("period_key", id.PeriodKey),
		zap.String("triggered_by", string(req.TriggeredBy)),
	)

	def, ok := r.defs[req.Kind]
	if !ok {
		return r.failResult(id, fmt.Errorf("unknown job kind: %s", req.Kind), nil, logger)
	}

	window, err := def.Window(req.PeriodKey)
	if err != nil {
		return r.failResult(id, fmt.Errorf("invalid period key: %w", err), nil, logger)
	}

	ctx, span := tracer.Start(ctx, "job.run",
		trace.WithAttributes(
			attribute.String("job.kind", id.Kind),
			attribute.String("job.period_key", id.PeriodKey),
			attribute.Bool("job.force", req.Force),
		),
	)
	defer span.End()

	outcome, _, err := r.repo.Acquire(ctx, id, req.TriggeredBy, r.holder, r.cfg.Staleness, req.Force)
	if err != nil {
		return r.failResult(id, fmt.Errorf("acquire lock: %w", err), nil, logger)
	}

	switch outcome {
	case jobrun.AlreadyCompleted:
		logger.Info("skipping run, already completed")
		r.metrics.RunsTotal.WithLabelValues(id.Kind, "skipped").Inc()
		return Result{Identity: id, Status: RunSkipped, Reason: ReasonAlreadyCompleted}
	case jobrun.AlreadyRunning:
		logger.Info("skipping run, another holder has a fresh lock")
		r.metrics.RunsTotal.WithLabelValues(id.Kind, "skipped").Inc()
		return Result{Identity: id, Status: RunSkipped, Reason: ReasonCurrentlyProcessing}
	case jobrun.Reclaimed:
		logger.Warn("reclaimed stale processing lock")
		r.metrics.LockReclaimsTotal.WithLabelValues(id.Kind).Inc()
	}

	logger.Info("run started", zap.String("holder", r.holder), zap.Bool("force", req.Force))
	r.metrics.RunInProgress.WithLabelValues(id.Kind).Set(1)
	defer r.metrics.RunInProgress.WithLabelValues(id.Kind).Set(0)
	started := time.Now()

	var summary *jobrun.Summary
	var runErr error
	if def.Aggregate != nil {
		summary, runErr = r.runAggregation(ctx, id, def, window, req.Force, logger)
	} else if def.PerItem != nil {
		summary, runErr = r.runPerItem(ctx, id, def, window, req.Force, logger)
	} else {
		runErr = fmt.Errorf("job kind %s has no aggregate or per-item spec", def.Kind)
	}

	r.metrics.RunDuration.WithLabelValues(id.Kind).Observe(time.Since(started).Seconds())

	if runErr != nil {
		if err := r.repo.Release(ctx, id, jobrun.StatusFailed, nil, runErr.Error()); err != nil {
			logger.Error("release failed status", zap.Error(err))
		}
		return r.failResult(id, runErr, summary, logger)
	}

	if err := r.repo.Release(ctx, id, jobrun.StatusCompleted, summary, ""); err != nil {
		// The work is done but the completed status is not durable; a
		// re-run stays safe, so surface this as a failed run.
		return r.failResult(id, fmt.Errorf("release completed status: %w", err), summary, logger)
	}
	if err := r.repo.ClearCheckpoint(ctx, id); err != nil && !errors.Is(err, jobrun.ErrNotFound) {
		logger.Warn("clear checkpoint", zap.Error(err))
	}

	logger.Info("run completed",
		zap.Int64("items_scanned", summary.ItemsScanned),
		zap.Int64("items_skipped", summary.ItemsSkipped),
		zap.Int64("groups_written", summary.GroupsWritten),
		zap.Duration("took", time.Since(started)),
	)
	r.metrics.RunsTotal.WithLabelValues(id.Kind, "completed").Inc()
	return Result{Identity: id, Status: RunCompleted, Summary: summary}
}

// runAggregation scans the window into an in-memory accumulator and
// commits the snapshot. The scan always restarts from the window start:
// aggregation state is cheap to rebuild within one invocation, so the
// checkpoint is persisted for progress visibility only.
func (r *Runner) runAggregation(ctx context.Context, id jobrun.Identity, def Definition, window source.Window, force bool, logger *zap.Logger) (*jobrun.Summary, error) {
	acc := aggregate.NewAccumulator(def.Aggregate.Schema, logger)
	cursor := source.NewCursor(def.Fetcher, window, r.cfg.PageSize)

	var lastCheckpoint int64
	for {
		page, err := cursor.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if page == nil {
			break
		}

		for _, it := range page {
			acc.Ingest(it)
		}

		pages, scanned := cursor.Stats()
		r.metrics.PagesFetchedTotal.WithLabelValues(id.Kind).Inc()
		r.metrics.ItemsScannedTotal.WithLabelValues(id.Kind).Add(float64(len(page)))

		if scanned-lastCheckpoint >= r.cfg.CheckpointEvery {
			lastCheckpoint = scanned
			r.saveProgress(ctx, id, cursor.ResumeToken(), scanned, logger)
			logger.Info("scan progress", zap.Int64("pages", pages), zap.Int64("items", scanned))
		}
	}

	_, scanned := cursor.Stats()
	_, skipped := acc.Counts()

	com := committer.New(def.Aggregate.Output, r.cfg.BatchSize, logger)
	if force {
		if _, err := com.Wipe(ctx, id.String()+":"); err != nil {
			return nil, fmt.Errorf("wipe previous output: %w", err)
		}
	}

	stats, err := com.Commit(ctx, buildDocs(id, acc.Snapshot()))
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	r.metrics.ItemsSkippedTotal.WithLabelValues(id.Kind).Add(float64(skipped))
	r.metrics.GroupsWrittenTotal.WithLabelValues(id.Kind).Add(float64(stats.Written))
	r.metrics.ChunkFailuresTotal.WithLabelValues(id.Kind).Add(float64(stats.FailedChunks))

	return &jobrun.Summary{
		ItemsScanned:  scanned,
		ItemsSkipped:  skipped,
		GroupsWritten: stats.Written,
		ChunkFailures: stats.FailedChunks,
	}, nil
}

// runPerItem drives the executor over the window, resuming from the
// persisted checkpoint when one exists, and checkpoints as non-skipped
// items accumulate.
func (r *Runner) runPerItem(ctx context.Context, id jobrun.Identity, def Definition, window source.Window, force bool, logger *zap.Logger) (*jobrun.Summary, error) {
	policy := def.PerItem.Policy
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	exec := executor.New(def.PerItem.Exec, policy, logger)
	cursor := source.NewCursor(def.Fetcher, window, r.cfg.PageSize)

	// A forced run must touch every item again: the skip check is
	// bypassed and any persisted skip state is cleared first.
	skip := def.PerItem.Skip
	if force {
		skip = nil
		if def.PerItem.Reset != nil {
			if err := def.PerItem.Reset(ctx); err != nil {
				logger.Warn("reset skip state", zap.Error(err))
			}
		}
	}

	var resumedFrom int64
	if !force {
		cp, err := r.repo.LoadCheckpoint(ctx, id)
		switch {
		case err == nil && cp.ResumeToken != "":
			cursor.Resume(cp.ResumeToken)
			resumedFrom = cp.ItemsProcessed
			logger.Info("resuming from checkpoint",
				zap.String("resume_token", cp.ResumeToken),
				zap.Int64("items_processed", cp.ItemsProcessed),
			)
		case err != nil && !errors.Is(err, jobrun.ErrNotFound):
			logger.Warn("load checkpoint", zap.Error(err))
		}
	}

	var checkpointedAt int64
	for {
		page, err := cursor.Next(ctx)
		if err != nil {
			return summaryFrom(cursor, exec), fmt.Errorf("scan: %w", err)
		}
		if page == nil {
			break
		}

		r.metrics.PagesFetchedTotal.WithLabelValues(id.Kind).Inc()
		r.metrics.ItemsScannedTotal.WithLabelValues(id.Kind).Add(float64(len(page)))

		if err := exec.ProcessPage(ctx, page, def.PerItem.Action, skip); err != nil {
			if errors.Is(err, executor.ErrBreakerTripped) {
				r.metrics.BreakerTripsTotal.WithLabelValues(id.Kind).Inc()
			}
			return summaryFrom(cursor, exec), err
		}

		// Skipped items advance the resume token but not the
		// checkpoint trigger.
		if stats := exec.Stats(); stats.Processed-checkpointedAt >= r.cfg.CheckpointEvery {
			checkpointedAt = stats.Processed
			r.saveProgress(ctx, id, cursor.ResumeToken(), resumedFrom+stats.Processed, logger)
		}
	}

	stats := exec.Stats()
	r.metrics.ItemsSkippedTotal.WithLabelValues(id.Kind).Add(float64(stats.Skipped))
	r.metrics.ItemsFailedTotal.WithLabelValues(id.Kind).Add(float64(stats.Failed))
	r.metrics.GroupsWrittenTotal.WithLabelValues(id.Kind).Add(float64(stats.Succeeded))

	if exec.ExceedsFailureBudget() {
		return summaryFrom(cursor, exec), fmt.Errorf("failure ratio exceeded budget: %d of %d items failed", stats.Failed, stats.Processed)
	}
	return summaryFrom(cursor, exec), nil
}

// saveProgress persists the checkpoint; progress is advisory for
// aggregation jobs, so persistence errors only log.
func (r *Runner) saveProgress(ctx context.Context, id jobrun.Identity, token string, processed int64, logger *zap.Logger) {
	cp := &jobrun.Checkpoint{
		Identity:       id,
		ResumeToken:    token,
		ItemsProcessed: processed,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := r.repo.SaveCheckpoint(ctx, cp); err != nil {
		logger.Warn("save checkpoint", zap.Error(err))
	}
}

func (r *Runner) failResult(id jobrun.Identity, err error, summary *jobrun.Summary, logger *zap.Logger) Result {
	logger.Error("run failed", zap.Error(err))
	r.metrics.RunsTotal.WithLabelValues(id.Kind, "failed").Inc()
	return Result{Identity: id, Status: RunFailed, Summary: summary, Err: err.Error()}
}

func summaryFrom(cursor *source.Cursor, exec *executor.Executor) *jobrun.Summary {
	_, scanned := cursor.Stats()
	stats := exec.Stats()
	return &jobrun.Summary{
		ItemsScanned:  scanned,
		ItemsSkipped:  stats.Skipped,
		ItemsFailed:   stats.Failed,
		GroupsWritten: stats.Succeeded,
	}
}

// buildDocs serializes the snapshot into deterministic output records
// keyed <kind>:<period>:<groupKey>, so re-runs replace wholesale.
func buildDocs(id jobrun.Identity, buckets []aggregate.Bucket) []committer.Doc {
	docs := make([]committer.Doc, 0, len(buckets))
	now := time.Now().UTC()
	for _, b := range buckets {
		body := map[string]any{
			"job_kind":    id.Kind,
			"period_key":  id.PeriodKey,
			"group_key":   b.Key,
			"items":       b.Items,
			"counters":    b.Counters,
			"computed_at": now,
		}
		if b.Breakdowns != nil {
			body["breakdowns"] = b.Breakdowns
		}
		if b.Samples != nil {
			body["samples"] = b.Samples
			body["sample_total"] = b.SampleTotal
		}
		docs = append(docs, committer.Doc{ID: id.String() + ":" + b.Key, Body: body})
	}
	return docs
}
