//go:build integration

package audit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"ingestrunner/internal/audit"
	"ingestrunner/internal/models"
)

func startPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "ingest",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Skipping test: could not start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := sqlx.Connect("pgx", fmt.Sprintf("postgres://postgres:postgres@%s:%s/ingest?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPostgresRecorder(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	rec := audit.NewPostgresRecorder(db)

	require.NoError(t, rec.EnsureSchema(ctx))
	require.NoError(t, rec.EnsureSchema(ctx), "schema creation is idempotent")

	run := &models.Run{ID: "7f0c1a5e-run", StartedAt: time.Now().UTC(), Status: models.RunRunning, MaxAttempts: 3}
	require.NoError(t, rec.RunStarted(ctx, run))

	first := &models.Attempt{RunID: run.ID, Number: 1, StartedAt: time.Now().UTC(), LogPath: "logs/a1.log", PID: null.IntFrom(4242), ExitCode: null.IntFrom(1)}
	first.Finish(models.AsFailed, "exit code: 1")
	require.NoError(t, rec.AttemptFinished(ctx, run, first))

	second := &models.Attempt{RunID: run.ID, Number: 2, StartedAt: time.Now().UTC(), LogPath: "logs/a2.log", PID: null.IntFrom(4243), ExitCode: null.IntFrom(0)}
	second.Progress = null.StringFrom("Processing page batch 9/9")
	second.Finish(models.AsSucceeded, "completion marker found")
	require.NoError(t, rec.AttemptFinished(ctx, run, second))

	run.Status = models.RunSucceeded
	run.FinishedAt = null.TimeFrom(time.Now().UTC())
	require.NoError(t, rec.RunFinished(ctx, run))

	latest, err := rec.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)
	assert.Equal(t, models.RunSucceeded, latest.Status)
	assert.True(t, latest.FinishedAt.Valid)

	attempts, err := rec.Attempts(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, models.AsFailed, attempts[0].Status)
	assert.EqualValues(t, 1, attempts[0].ExitCode.Int64)
	assert.Equal(t, models.AsSucceeded, attempts[1].Status)
	assert.Equal(t, "Processing page batch 9/9", attempts[1].Progress.String)
}
