package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gradingco/gradingd/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes runs.
type Worker struct {
	id        string
	replicaID string
	pool      *pgxpool.Pool
	config    *config.QueueConfig
	executor  RunExecutor
	registry  RunRegistry
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentRunID  string
	runsProcessed int
	lastActivity  time.Time
}

// RunRegistry is the subset of WorkerPool used by Worker for cancellation
// registration.
type RunRegistry interface {
	RegisterRun(runID string, cancel context.CancelFunc)
	UnregisterRun(runID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id, replicaID string, pool *pgxpool.Pool, cfg *config.QueueConfig, executor RunExecutor, registry RunRegistry) *Worker {
	return &Worker{
		id:           id,
		replicaID:    replicaID,
		pool:         pool,
		config:       cfg,
		executor:     executor,
		registry:     registry,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentRunID:  w.currentRunID,
		RunsProcessed: w.runsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "replica_id", w.replicaID)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoRunsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing run", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a run, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	var activeCount int
	if err := w.pool.QueryRow(ctx,
		`SELECT count(*) FROM grading_runs WHERE claimed_by IS NOT NULL AND completed_at IS NULL AND failed_at IS NULL`,
	).Scan(&activeCount); err != nil {
		return fmt.Errorf("checking active runs: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentRuns {
		return ErrAtCapacity
	}

	runID, err := w.claimNextRun(ctx)
	if err != nil {
		return err
	}

	log := slog.With("run_id", runID, "worker_id", w.id)
	log.Info("run claimed")

	w.setStatus(WorkerStatusWorking, runID)
	defer w.setStatus(WorkerStatusIdle, "")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	w.registry.RegisterRun(runID, cancelRun)
	defer w.registry.UnregisterRun(runID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(runCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, runID)

	result := w.executor.Execute(runCtx, runID)
	if result == nil {
		result = &ExecutionResult{Status: "failed", Error: fmt.Errorf("executor returned nil result")}
	}

	cancelHeartbeat()

	if err := w.recordTerminalStatus(context.Background(), runID, result); err != nil {
		log.Error("failed to record run terminal status", "error", err)
	}

	if err := w.releaseClaim(context.Background(), runID); err != nil {
		log.Error("failed to release run claim", "error", err)
	}

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()

	log.Info("run processing complete", "status", result.Status)
	return nil
}

// recordTerminalStatus writes completed_at or failed_at once a run reaches a
// terminal outcome, so claimNextRun, Health, and detectAndReleaseOrphans'
// "WHERE completed_at IS NULL AND failed_at IS NULL" guards actually retire
// the run instead of reclaiming and re-executing it on every future poll.
// A "paused" run (awaiting review) leaves both columns NULL: it isn't
// finished, and SubmitReview resumes it directly rather than through the
// queue.
func (w *Worker) recordTerminalStatus(ctx context.Context, runID string, result *ExecutionResult) error {
	var column string
	switch result.Status {
	case "completed":
		column = "completed_at"
	case "failed", "cancelled", "timed_out":
		column = "failed_at"
	default:
		return nil
	}

	var errMsg *string
	if result.Error != nil {
		msg := result.Error.Error()
		errMsg = &msg
	}

	_, err := w.pool.Exec(ctx,
		`UPDATE grading_runs SET `+column+` = now(), last_error = $1, updated_at = now() WHERE run_id = $2`,
		errMsg, runID,
	)
	return err
}

// claimNextRun atomically claims the next queued or expired-claim run using
// FOR UPDATE SKIP LOCKED, ordered for FIFO processing.
func (w *Worker) claimNextRun(ctx context.Context) (string, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var runID string
	err = tx.QueryRow(ctx,
		`SELECT run_id FROM grading_runs
		 WHERE completed_at IS NULL AND failed_at IS NULL
		   AND (claimed_by IS NULL OR claim_expires_at < now())
		 ORDER BY created_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
	).Scan(&runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoRunsAvailable
		}
		return "", fmt.Errorf("failed to query claimable run: %w", err)
	}

	now := time.Now()
	if _, err := tx.Exec(ctx,
		`UPDATE grading_runs SET claimed_by = $1, claimed_at = $2, claim_expires_at = $3, updated_at = $2 WHERE run_id = $4`,
		w.replicaID, now, now.Add(w.config.ClaimTimeout), runID,
	); err != nil {
		return "", fmt.Errorf("failed to claim run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit claim: %w", err)
	}

	return runID, nil
}

// runHeartbeat periodically extends the claim so other replicas don't
// reclaim a run that is still in progress.
func (w *Worker) runHeartbeat(ctx context.Context, runID string) {
	interval := w.config.ClaimTimeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if _, err := w.pool.Exec(ctx,
				`UPDATE grading_runs SET claim_expires_at = $1, updated_at = $1 WHERE run_id = $2 AND claimed_by = $3`,
				now.Add(w.config.ClaimTimeout), runID, w.replicaID,
			); err != nil {
				slog.Warn("claim heartbeat failed", "run_id", runID, "error", err)
			}
		}
	}
}

func (w *Worker) releaseClaim(ctx context.Context, runID string) error {
	_, err := w.pool.Exec(ctx,
		`UPDATE grading_runs SET claimed_by = NULL, claim_expires_at = NULL, updated_at = now() WHERE run_id = $1 AND claimed_by = $2`,
		runID, w.replicaID,
	)
	return err
}

func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRunID = runID
	w.lastActivity = time.Now()
}
