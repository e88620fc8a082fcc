package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically clears expired claims so another replica
// can pick the run back up from its last checkpoint. All replicas run this
// independently; the operation is idempotent (an UPDATE ... WHERE clause
// that touches zero rows is a no-op).
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndReleaseOrphans(ctx); err != nil {
				slog.Error("orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndReleaseOrphans clears the claim on runs whose claim_expires_at
// has passed, making them claimable again by any replica's next poll.
func (p *WorkerPool) detectAndReleaseOrphans(ctx context.Context) error {
	rows, err := p.pool.Query(ctx,
		`UPDATE grading_runs
		 SET claimed_by = NULL, claim_expires_at = NULL, updated_at = now()
		 WHERE claimed_by IS NOT NULL AND claim_expires_at < now()
		   AND completed_at IS NULL AND failed_at IS NULL
		 RETURNING run_id, claimed_by`,
	)
	if err != nil {
		return fmt.Errorf("failed to release orphaned claims: %w", err)
	}
	defer rows.Close()

	recovered := 0
	for rows.Next() {
		var runID, claimedBy string
		if err := rows.Scan(&runID, &claimedBy); err != nil {
			continue
		}
		slog.Warn("released orphaned run claim", "run_id", runID, "previous_owner", claimedBy)
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	return rows.Err()
}
