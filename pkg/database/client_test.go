package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gradingco/gradingd/pkg/database"
)

// newTestConfig starts a disposable PostgreSQL container and returns a Config
// pointed at it, so NewClient exercises the real pgxpool connection and
// embedded golang-migrate migrations rather than a mock.
func newTestConfig(t *testing.T) database.Config {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("grading_test"),
		postgres.WithUsername("grading_test"),
		postgres.WithPassword("grading_test"),
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

	return database.Config{
		Host:            host,
		Port:            port.Int(),
		User:            "grading_test",
		Password:        "grading_test",
		Database:        "grading_test",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}
}

func TestNewClient_MigratesAndReportsHealth(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()

	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	health, err := database.Health(ctx, client.Pool())
	require.NoError(t, err)
	require.Equal(t, "healthy", health.Status)
	require.Greater(t, health.MaxConns, int32(0))

	var tableCount int
	err = client.Pool().QueryRow(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_name IN ('grading_runs', 'grading_checkpoints')`,
	).Scan(&tableCount)
	require.NoError(t, err)
	require.Equal(t, 2, tableCount)

	var hasLastError bool
	err = client.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'grading_runs' AND column_name = 'last_error')`,
	).Scan(&hasLastError)
	require.NoError(t, err)
	require.True(t, hasLastError, "last_error column must exist for queue.Worker to record terminal failures")
}

func TestNewClient_RunningMigrationsTwiceIsANoOp(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()

	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	second, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(second.Close)
}
