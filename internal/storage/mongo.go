// Package storage provides MongoDB-backed implementations of the
// engine's persistence interfaces.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/jobrun"
)

const (
	jobRunsCollection     = "job_runs"
	checkpointsCollection = "job_checkpoints"
)

// Connect establishes and verifies a MongoDB connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("create mongo client: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// jobRunDoc wraps a JobRecord with the identity string as document id.
type jobRunDoc struct {
	ID               string `bson:"_id"`
	jobrun.JobRecord `bson:",inline"`
}

type checkpointDoc struct {
	ID                string `bson:"_id"`
	jobrun.Checkpoint `bson:",inline"`
}

// MongoJobRepository implements jobrun.Repository on MongoDB.
type MongoJobRepository struct {
	runs        *mongo.Collection
	checkpoints *mongo.Collection
	logger      *zap.Logger
}

// NewMongoJobRepository creates a Mongo-backed job run repository.
func NewMongoJobRepository(db *mongo.Database, logger *zap.Logger) *MongoJobRepository {
	return &MongoJobRepository{
		runs:        db.Collection(jobRunsCollection),
		checkpoints: db.Collection(checkpointsCollection),
		logger:      logger,
	}
}

// Get retrieves the record for an identity.
func (r *MongoJobRepository) Get(ctx context.Context, id jobrun.Identity) (*jobrun.JobRecord, error) {
	var doc jobRunDoc
	err := r.runs.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, jobrun.ErrNotFound
		}
		return nil, fmt.Errorf("query job record: %w", err)
	}
	return &doc.JobRecord, nil
}

// Acquire reads the current record, applies the lease rules and
// persists the processing state when the outcome allows proceeding.
//
// Read and write are two round trips, not a compare-and-swap: two
// invocations observing the same stale lock can both reclaim it. The
// engine tolerates this because all dependent writes are idempotent
// full replacements; a duplicate run overwrites, never corrupts.
func (r *MongoJobRepository) Acquire(ctx context.Context, id jobrun.Identity, by jobrun.TriggeredBy, holder string, staleness time.Duration, force bool) (jobrun.AcquireOutcome, *jobrun.JobRecord, error) {
	existing, err := r.Get(ctx, id)
	if err != nil && !errors.Is(err, jobrun.ErrNotFound) {
		return "", nil, err
	}

	outcome := jobrun.DecideAcquire(existing, time.Now().UTC(), staleness, force)
	if !outcome.Proceed() {
		return outcome, existing, nil
	}

	rec := existing
	if rec == nil {
		rec = jobrun.NewJobRecord(id, by)
	}
	if err := rec.MarkProcessing(holder, by); err != nil {
		return outcome, nil, fmt.Errorf("mark processing: %w", err)
	}

	if err := r.replace(ctx, rec); err != nil {
		return outcome, nil, err
	}
	return outcome, rec, nil
}

// Release sets the terminal status and clears the lock.
func (r *MongoJobRepository) Release(ctx context.Context, id jobrun.Identity, final jobrun.Status, summary *jobrun.Summary, errMsg string) error {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	switch final {
	case jobrun.StatusCompleted:
		if err := rec.MarkCompleted(summary); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
	case jobrun.StatusFailed:
		if err := rec.MarkFailed(errMsg); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
	default:
		return fmt.Errorf("invalid terminal status: %s", final)
	}

	return r.replace(ctx, rec)
}

func (r *MongoJobRepository) replace(ctx context.Context, rec *jobrun.JobRecord) error {
	doc := jobRunDoc{ID: rec.Identity.String(), JobRecord: *rec}
	_, err := r.runs.ReplaceOne(ctx,
		bson.M{"_id": doc.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("replace job record: %w", err)
	}
	return nil
}

// SaveCheckpoint upserts the resume position for an identity.
func (r *MongoJobRepository) SaveCheckpoint(ctx context.Context, cp *jobrun.Checkpoint) error {
	doc := checkpointDoc{ID: cp.Identity.String(), Checkpoint: *cp}
	_, err := r.checkpoints.ReplaceOne(ctx,
		bson.M{"_id": doc.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the resume position for an identity.
func (r *MongoJobRepository) LoadCheckpoint(ctx context.Context, id jobrun.Identity) (*jobrun.Checkpoint, error) {
	var doc checkpointDoc
	err := r.checkpoints.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, jobrun.ErrNotFound
		}
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	return &doc.Checkpoint, nil
}

// ClearCheckpoint removes the resume position for an identity.
func (r *MongoJobRepository) ClearCheckpoint(ctx context.Context, id jobrun.Identity) error {
	if _, err := r.checkpoints.DeleteOne(ctx, bson.M{"_id": id.String()}); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
