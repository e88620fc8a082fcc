package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gradingco/gradingd/pkg/config"
	"github.com/gradingco/gradingd/pkg/database"
)

// stubExecutor returns a fixed ExecutionResult for every run, recording the
// run IDs it was asked to execute.
type stubExecutor struct {
	result *ExecutionResult
}

func (s *stubExecutor) Execute(ctx context.Context, runID string) *ExecutionResult {
	return s.result
}

type noopRegistry struct{}

func (noopRegistry) RegisterRun(string, context.CancelFunc) {}
func (noopRegistry) UnregisterRun(string)                   {}

func newTestPool(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("grading_queue_test"),
		postgres.WithUsername("grading_queue_test"),
		postgres.WithPassword("grading_queue_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host:            host,
		Port:            port.Int(),
		User:            "grading_queue_test",
		Password:        "grading_queue_test",
		Database:        "grading_queue_test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func insertQueuedRun(t *testing.T, client *database.Client) string {
	t.Helper()
	runID := uuid.NewString()
	_, err := client.Pool().Exec(context.Background(),
		`INSERT INTO grading_runs (run_id, current_stage, created_at, updated_at) VALUES ($1, 'PARSE_RUBRIC', now(), now())`,
		runID,
	)
	require.NoError(t, err)
	return runID
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             1,
		MaxConcurrentRuns:       8,
		PollInterval:            10 * time.Millisecond,
		PollIntervalJitter:      0,
		ClaimTimeout:            time.Minute,
		GracefulShutdownTimeout: time.Second,
		OrphanDetectionInterval: time.Minute,
	}
}

// A completed run must have completed_at set, so claimNextRun never reclaims
// it and runs it again on a future poll.
func TestWorker_PollAndProcess_CompletedRunIsRetired(t *testing.T) {
	client := newTestPool(t)
	runID := insertQueuedRun(t, client)

	w := NewWorker("w1", "replica-1", client.Pool(), testQueueConfig(),
		&stubExecutor{result: &ExecutionResult{Status: "completed"}}, noopRegistry{})

	require.NoError(t, w.pollAndProcess(context.Background()))

	var completedAt *time.Time
	var claimedBy *string
	err := client.Pool().QueryRow(context.Background(),
		`SELECT completed_at, claimed_by FROM grading_runs WHERE run_id = $1`, runID,
	).Scan(&completedAt, &claimedBy)
	require.NoError(t, err)
	require.NotNil(t, completedAt)
	require.Nil(t, claimedBy)

	// A second poll must find nothing claimable: the run is retired.
	err = w.pollAndProcess(context.Background())
	require.True(t, errors.Is(err, ErrNoRunsAvailable), "expected ErrNoRunsAvailable, got %v", err)
}

// A failed run must have failed_at and last_error set, for the same reason.
func TestWorker_PollAndProcess_FailedRunIsRetired(t *testing.T) {
	client := newTestPool(t)
	runID := insertQueuedRun(t, client)

	execErr := fmt.Errorf("llm: exhausted retries")
	w := NewWorker("w1", "replica-1", client.Pool(), testQueueConfig(),
		&stubExecutor{result: &ExecutionResult{Status: "failed", Error: execErr}}, noopRegistry{})

	require.NoError(t, w.pollAndProcess(context.Background()))

	var failedAt *time.Time
	var lastError *string
	err := client.Pool().QueryRow(context.Background(),
		`SELECT failed_at, last_error FROM grading_runs WHERE run_id = $1`, runID,
	).Scan(&failedAt, &lastError)
	require.NoError(t, err)
	require.NotNil(t, failedAt)
	require.NotNil(t, lastError)
	require.Equal(t, execErr.Error(), *lastError)

	err = w.pollAndProcess(context.Background())
	require.True(t, errors.Is(err, ErrNoRunsAvailable))
}

// A paused run (awaiting review) is not terminal: it keeps polling eligible
// so a future claim can pick it back up, but SubmitReview normally resumes
// it directly instead.
func TestWorker_PollAndProcess_PausedRunStaysClaimable(t *testing.T) {
	client := newTestPool(t)
	runID := insertQueuedRun(t, client)

	w := NewWorker("w1", "replica-1", client.Pool(), testQueueConfig(),
		&stubExecutor{result: &ExecutionResult{Status: "paused"}}, noopRegistry{})

	require.NoError(t, w.pollAndProcess(context.Background()))

	var completedAt, failedAt *time.Time
	err := client.Pool().QueryRow(context.Background(),
		`SELECT completed_at, failed_at FROM grading_runs WHERE run_id = $1`, runID,
	).Scan(&completedAt, &failedAt)
	require.NoError(t, err)
	require.Nil(t, completedAt)
	require.Nil(t, failedAt)
}
