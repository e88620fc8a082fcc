package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gradingco/gradingd/pkg/models"
)

// PostgresStore is the production Checkpointer, backed by the
// grading_runs/grading_checkpoints tables. Writes for a given run_id are
// serialized by a transaction that upserts grading_runs and inserts the new
// checkpoint row together, so two concurrent Save calls for the same run
// cannot race past each other undetected.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pgxpool.Pool as a Checkpointer.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, runID string, completedNode, nextStage models.Stage, attemptNumber int, state *models.GradingState) (int, error) {
	data, err := marshalState(state)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal state: %v", ErrWriteFailed, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx: %v", ErrWriteFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()

	if _, err := tx.Exec(ctx,
		`INSERT INTO grading_runs (run_id, current_stage, review_pending, config, created_at, updated_at)
		 VALUES ($1, $2, $3, '{}'::jsonb, $4, $4)
		 ON CONFLICT (run_id) DO UPDATE SET current_stage = $2, review_pending = $3, updated_at = $4`,
		runID, string(nextStage), reviewPendingValue(state), now,
	); err != nil {
		return 0, fmt.Errorf("%w: upsert run: %v", ErrWriteFailed, err)
	}

	var seq int
	if err := tx.QueryRow(ctx,
		`SELECT coalesce(max(attempt_number), 0) + 1 FROM grading_checkpoints WHERE run_id = $1 AND node_name = $2`,
		runID, string(completedNode),
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("%w: compute sequence: %v", ErrWriteFailed, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO grading_checkpoints (run_id, node_name, attempt_number, state, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		runID, string(completedNode), attemptNumber, data, now,
	); err != nil {
		return 0, fmt.Errorf("%w: insert checkpoint: %v", ErrWriteFailed, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO grading_checkpoints (run_id, node_name, attempt_number, state, created_at)
		 VALUES ($1, 'next:' || $2, 0, $3, $4)
		 ON CONFLICT (run_id, node_name, attempt_number) DO UPDATE SET state = $3, created_at = $4`,
		runID, string(nextStage), data, now,
	); err != nil {
		return 0, fmt.Errorf("%w: record next-stage marker: %v", ErrWriteFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrWriteFailed, err)
	}

	return seq, nil
}

func (s *PostgresStore) LoadLatest(ctx context.Context, runID string) (*models.GradingState, models.Stage, error) {
	var data []byte
	var nodeName string
	err := s.pool.QueryRow(ctx,
		`SELECT node_name, state FROM grading_checkpoints
		 WHERE run_id = $1 AND node_name LIKE 'next:%'
		 ORDER BY created_at DESC LIMIT 1`,
		runID,
	).Scan(&nodeName, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrRunNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("checkpoint: load latest: %w", err)
	}

	state, err := unmarshalState(data)
	if err != nil {
		return nil, "", fmt.Errorf("checkpoint: unmarshal state: %w", err)
	}

	nextStage := models.Stage(nodeName[len("next:"):])
	return state, nextStage, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, filter ListFilter) ([]RunSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, current_stage,
		        CASE WHEN completed_at IS NOT NULL THEN 'completed'
		             WHEN failed_at IS NOT NULL THEN 'failed'
		             ELSE 'running' END AS status,
		        created_at, updated_at
		 FROM grading_runs
		 ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list active: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var summary RunSummary
		var stage string
		if err := rows.Scan(&summary.RunID, &stage, &summary.Status, &summary.CreatedAt, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("checkpoint: scan run summary: %w", err)
		}
		summary.CurrentStage = models.Stage(stage)
		if filter.matches(summary) {
			out = append(out, summary)
		}
	}
	return out, rows.Err()
}

func reviewPendingValue(state *models.GradingState) *string {
	if state == nil || state.ReviewPending == nil {
		return nil
	}
	v := string(*state.ReviewPending)
	return &v
}
