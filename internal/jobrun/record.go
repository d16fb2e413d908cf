// Package jobrun defines the job run record, its lock semantics and the
// persistence interface shared by all aggregation jobs.
package jobrun

import (
	"fmt"
	"time"
)

// Status represents the current state of a job run record.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// TriggeredBy records which trigger source started the run.
type TriggeredBy string

const (
	TriggeredByScheduled TriggeredBy = "scheduled"
	TriggeredByManual    TriggeredBy = "manual"
	TriggeredByBackfill  TriggeredBy = "backfill"
)

// validTransitions defines the allowed state machine transitions. A
// processing record may transition back to processing when a stale lock
// is reclaimed; completed re-entry is only reachable via force.
var validTransitions = map[Status][]Status{
	StatusIdle:       {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusProcessing},
}

// Identity scopes locking and output: one job kind applied to one
// period key (an ISO week, a calendar day, or an entity id).
type Identity struct {
	Kind      string `bson:"kind" json:"kind"`
	PeriodKey string `bson:"period_key" json:"period_key"`
}

// String returns the canonical identity key used as the record id and
// as the prefix of dependent output record ids.
func (id Identity) String() string {
	return id.Kind + ":" + id.PeriodKey
}

// Summary carries the counts written onto a completed record.
type Summary struct {
	ItemsScanned  int64 `bson:"items_scanned" json:"items_scanned"`
	ItemsSkipped  int64 `bson:"items_skipped" json:"items_skipped"`
	ItemsFailed   int64 `bson:"items_failed" json:"items_failed"`
	GroupsWritten int64 `bson:"groups_written" json:"groups_written"`
	ChunkFailures int64 `bson:"chunk_failures" json:"chunk_failures"`
}

// JobRecord is the durable lock and result record for one job identity.
type JobRecord struct {
	Identity       Identity    `bson:"identity" json:"identity"`
	Status         Status      `bson:"status" json:"status"`
	TriggeredBy    TriggeredBy `bson:"triggered_by" json:"triggered_by"`
	LockAcquiredAt *time.Time  `bson:"lock_acquired_at,omitempty" json:"lock_acquired_at,omitempty"`
	LockHolder     string      `bson:"lock_holder,omitempty" json:"lock_holder,omitempty"`
	Error          string      `bson:"error,omitempty" json:"error,omitempty"`
	Summary        *Summary    `bson:"summary,omitempty" json:"summary,omitempty"`
	CreatedAt      time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `bson:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time  `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// NewJobRecord creates a record in the idle state.
func NewJobRecord(id Identity, by TriggeredBy) *JobRecord {
	now := time.Now().UTC()
	return &JobRecord{
		Identity:    id,
		Status:      StatusIdle,
		TriggeredBy: by,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo validates and performs a state transition.
func (r *JobRecord) TransitionTo(newStatus Status) error {
	allowed, ok := validTransitions[r.Status]
	if !ok {
		return fmt.Errorf("unknown current status: %s", r.Status)
	}

	for _, s := range allowed {
		if s == newStatus {
			r.Status = newStatus
			r.UpdatedAt = time.Now().UTC()
			return nil
		}
	}

	return fmt.Errorf("invalid transition from %s to %s", r.Status, newStatus)
}

// MarkProcessing stamps the lock fields and transitions to processing.
func (r *JobRecord) MarkProcessing(holder string, by TriggeredBy) error {
	if err := r.TransitionTo(StatusProcessing); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.LockAcquiredAt = &now
	r.LockHolder = holder
	r.TriggeredBy = by
	r.Error = ""
	return nil
}

// MarkCompleted transitions to completed, records the summary and
// clears the lock.
func (r *JobRecord) MarkCompleted(summary *Summary) error {
	if err := r.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.Summary = summary
	r.CompletedAt = &now
	r.LockAcquiredAt = nil
	r.LockHolder = ""
	return nil
}

// MarkFailed transitions to failed with an error message and clears
// the lock.
func (r *JobRecord) MarkFailed(errMsg string) error {
	if err := r.TransitionTo(StatusFailed); err != nil {
		return err
	}
	r.Error = errMsg
	r.LockAcquiredAt = nil
	r.LockHolder = ""
	return nil
}

// LockAge returns how long the current lock has been held, or zero if
// the record is not processing.
func (r *JobRecord) LockAge(now time.Time) time.Duration {
	if r.Status != StatusProcessing || r.LockAcquiredAt == nil {
		return 0
	}
	return now.Sub(*r.LockAcquiredAt)
}
