// Package controller orchestrates the full lifecycle of an aggregation
// job run: lock acquisition, scan, commit and finalization.
package controller

import (
	"context"

	"github.com/storelytics/aggregation-engine/internal/aggregate"
	"github.com/storelytics/aggregation-engine/internal/committer"
	"github.com/storelytics/aggregation-engine/internal/executor"
	"github.com/storelytics/aggregation-engine/internal/jobrun"
	"github.com/storelytics/aggregation-engine/internal/retry"
	"github.com/storelytics/aggregation-engine/internal/source"
)

// AggregateSpec configures a pure aggregation job: scan, accumulate in
// memory, commit the snapshot as full-replacement output records.
type AggregateSpec struct {
	Schema aggregate.Schema
	Output committer.Store
}

// PerItemSpec configures a job whose work is one external side effect
// per scanned item, executed through the retry/breaker executor.
// Forced runs ignore Skip and call Reset first, so a job backing its
// skip check with persistent state can clear it.
type PerItemSpec struct {
	Action executor.Action
	Skip   executor.SkipCheck
	Reset  func(ctx context.Context) error
	Exec   executor.Config
	Policy *retry.Policy
}

// Definition describes one job kind. Exactly one of Aggregate or
// PerItem must be set.
type Definition struct {
	Kind    string
	Window  func(periodKey string) (source.Window, error)
	Fetcher source.Fetcher

	Aggregate *AggregateSpec
	PerItem   *PerItemSpec
}

// Request asks the runner to execute one job identity.
type Request struct {
	Kind        string             `json:"kind"`
	PeriodKey   string             `json:"period_key"`
	TriggeredBy jobrun.TriggeredBy `json:"triggered_by"`
	Force       bool               `json:"force"`
}

// RunStatus is the terminal status of a run as seen by the caller.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunSkipped   RunStatus = "skipped"
	RunFailed    RunStatus = "failed"
)

// Skip reason codes reported on RunSkipped results.
const (
	ReasonAlreadyCompleted    = "already_completed"
	ReasonCurrentlyProcessing = "currently_processing"
)

// Result is the structured outcome of a run. Runs never propagate
// errors to the caller; failures are captured here so trigger handlers
// can log or surface them without crashing the host.
type Result struct {
	Identity jobrun.Identity `json:"identity"`
	Status   RunStatus       `json:"status"`
	Reason   string          `json:"reason,omitempty"`
	Summary  *jobrun.Summary `json:"summary,omitempty"`
	Err      string          `json:"error,omitempty"`
}
