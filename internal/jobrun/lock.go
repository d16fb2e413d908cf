package jobrun

import "time"

// AcquireOutcome is the result of a lock acquisition attempt.
type AcquireOutcome string

const (
	// Granted means the caller now holds the lock and must run the job.
	Granted AcquireOutcome = "granted"
	// Reclaimed means a stale processing lock was taken over; the
	// caller proceeds exactly as with Granted.
	Reclaimed AcquireOutcome = "reclaimed"
	// AlreadyCompleted means the identity has a completed result and
	// force was not requested; the caller must not run.
	AlreadyCompleted AcquireOutcome = "already_completed"
	// AlreadyRunning means another holder has a fresh lock; the caller
	// must not run.
	AlreadyRunning AcquireOutcome = "already_running"
)

// Proceed reports whether the outcome allows the caller to run the job.
func (o AcquireOutcome) Proceed() bool {
	return o == Granted || o == Reclaimed
}

// DecideAcquire applies the lease rules to an existing record (nil when
// no record exists for the identity):
//
//   - no record, idle or failed: Granted
//   - completed: AlreadyCompleted unless force, then Granted
//   - processing with lock age < staleness: AlreadyRunning
//   - processing with lock age >= staleness: Reclaimed
//
// This is a best-effort lease, not a strict lock: two callers reading a
// stale processing record at the same time can both reclaim it. That is
// acceptable because every dependent write is an idempotent full
// replacement keyed by a deterministic id, so a duplicate run overwrites
// rather than corrupts.
func DecideAcquire(existing *JobRecord, now time.Time, staleness time.Duration, force bool) AcquireOutcome {
	if existing == nil {
		return Granted
	}

	switch existing.Status {
	case StatusIdle, StatusFailed:
		return Granted
	case StatusCompleted:
		if force {
			return Granted
		}
		return AlreadyCompleted
	case StatusProcessing:
		if existing.LockAcquiredAt == nil || existing.LockAge(now) >= staleness {
			return Reclaimed
		}
		return AlreadyRunning
	default:
		return Granted
	}
}
