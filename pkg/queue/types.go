// Package queue implements the RunQueue/RunWorker pool that claims queued
// and resumable grading runs from the checkpoint store across process
// replicas, grounded on the teacher's session-queue worker pool.
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoRunsAvailable indicates no queued or resumable runs are claimable.
	ErrNoRunsAvailable = errors.New("no runs available")

	// ErrAtCapacity indicates the global concurrent run limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// RunExecutor executes a claimed grading run end-to-end (or resumes it from
// its last checkpoint). It owns the run's lifecycle internally: the worker
// only handles claiming, heartbeating the claim, and recording the terminal
// outcome.
type RunExecutor interface {
	Execute(ctx context.Context, runID string) *ExecutionResult
}

// ExecutionResult is the terminal outcome of a claimed run.
type ExecutionResult struct {
	Status string // "completed", "failed", "timed_out", "cancelled"
	Error  error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	StoreReachable   bool           `json:"store_reachable"`
	StoreError       string         `json:"store_error,omitempty"`
	ReplicaID        string         `json:"replica_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveRuns       int            `json:"active_runs"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentRunID   string    `json:"current_run_id,omitempty"`
	RunsProcessed  int       `json:"runs_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
