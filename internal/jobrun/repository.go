package jobrun

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that no record exists for the requested identity.
var ErrNotFound = errors.New("job record not found")

// Checkpoint is the persisted resume position of a scan. Per-item jobs
// use it to continue across invocations; aggregation jobs persist it
// for progress visibility only and always restart the scan.
type Checkpoint struct {
	Identity       Identity  `bson:"identity" json:"identity"`
	ResumeToken    string    `bson:"resume_token" json:"resume_token"`
	ItemsProcessed int64     `bson:"items_processed" json:"items_processed"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// Repository defines the persistence interface for job run records and
// checkpoints.
type Repository interface {
	// Get retrieves the record for an identity, or ErrNotFound.
	Get(ctx context.Context, id Identity) (*JobRecord, error)

	// Acquire attempts to take the lock for an identity per
	// DecideAcquire and, when the outcome allows proceeding, persists
	// the record in processing state with the lock stamped. The
	// returned record reflects the persisted state.
	Acquire(ctx context.Context, id Identity, by TriggeredBy, holder string, staleness time.Duration, force bool) (AcquireOutcome, *JobRecord, error)

	// Release sets the terminal status and clears the lock. summary is
	// only written for StatusCompleted; errMsg only for StatusFailed.
	Release(ctx context.Context, id Identity, final Status, summary *Summary, errMsg string) error

	// SaveCheckpoint upserts the resume position for an identity.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// LoadCheckpoint retrieves the resume position, or ErrNotFound.
	LoadCheckpoint(ctx context.Context, id Identity) (*Checkpoint, error)

	// ClearCheckpoint removes the resume position after a finished run.
	ClearCheckpoint(ctx context.Context, id Identity) error
}
