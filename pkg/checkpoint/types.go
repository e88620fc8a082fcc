// Package checkpoint persists GradingState snapshots keyed by
// (run_id, node_name, attempt_number) and supports resuming a run from its
// latest snapshot. Two implementations exist: MemoryStore for tests and
// PostgresStore for production, both satisfying the same Checkpointer
// interface so the orchestrator never knows which backend it talks to.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/gradingco/gradingd/pkg/models"
)

var (
	// ErrRunNotFound is returned by LoadLatest when no snapshot exists for a run.
	ErrRunNotFound = errors.New("checkpoint: run not found")

	// ErrWriteFailed wraps an underlying storage error on Save. Per the
	// failure semantics, a Save failure downgrades the run to best-effort;
	// it must never abort grading.
	ErrWriteFailed = errors.New("checkpoint: write failed")
)

// RunSummary is the lightweight per-run index record returned by ListActive,
// independent of the full GradingState payload.
type RunSummary struct {
	RunID          string       `json:"run_id"`
	LatestSequence int          `json:"latest_sequence"`
	CurrentStage   models.Stage `json:"current_stage"`
	Status         string       `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ListFilter narrows ListActive results. A zero-value filter matches every run.
type ListFilter struct {
	Stage  models.Stage
	Status string
}

func (f ListFilter) matches(s RunSummary) bool {
	if f.Stage != "" && f.Stage != s.CurrentStage {
		return false
	}
	if f.Status != "" && f.Status != s.Status {
		return false
	}
	return true
}

// Checkpointer persists GradingState snapshots and supports resume. Writes
// for the same run_id are serialized by the implementation; the interface
// itself makes no ordering promises across different run_ids.
//
// The checkpointer is topology-agnostic: it does not know the graph's edges,
// so the caller (GraphRuntime) tells it which stage comes next at the moment
// a node completes, and LoadLatest simply plays that decision back.
type Checkpointer interface {
	// Save atomically persists state under (run_id, completedNode, attemptNumber)
	// and records nextStage as the stage a resumed run should execute.
	// Returns the new snapshot's sequence number.
	Save(ctx context.Context, runID string, completedNode models.Stage, nextStage models.Stage, attemptNumber int, state *models.GradingState) (int, error)

	// LoadLatest returns the most recently saved state for a run and the
	// stage that should execute next. ErrRunNotFound if nothing was ever saved.
	LoadLatest(ctx context.Context, runID string) (state *models.GradingState, nextStage models.Stage, err error)

	// ListActive returns run summaries matching filter, newest first.
	ListActive(ctx context.Context, filter ListFilter) ([]RunSummary, error)
}
