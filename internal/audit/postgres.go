package audit

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"ingestrunner/internal/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ingest_run
(
    id           TEXT PRIMARY KEY,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ,
    status       TEXT        NOT NULL,
    max_attempts INT         NOT NULL,
    error        TEXT
)`,
	`CREATE TABLE IF NOT EXISTS ingest_attempt
(
    run_id        TEXT        NOT NULL REFERENCES ingest_run (id) ON DELETE CASCADE,
    number        INT         NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ,
    log_path      TEXT        NOT NULL,
    pid           INT,
    exit_code     INT,
    status        TEXT        NOT NULL,
    detail        TEXT,
    last_progress TEXT,
    PRIMARY KEY (run_id, number)
)`,
}

// PostgresRecorder keeps the audit trail in the ingest_run and ingest_attempt tables
type PostgresRecorder struct {
	db *sqlx.DB
}

func NewPostgresRecorder(db *sqlx.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// EnsureSchema creates the audit tables if they do not exist
func (p *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("could not create audit schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresRecorder) RunStarted(ctx context.Context, run *models.Run) error {
	return p.upsertRun(ctx, run)
}

func (p *PostgresRecorder) AttemptFinished(ctx context.Context, _ *models.Run, attempt *models.Attempt) error {
	_, err := p.db.NamedExecContext(ctx, `
INSERT INTO ingest_attempt (run_id, number, started_at, finished_at, log_path, pid, exit_code, status, detail, last_progress)
VALUES (:run_id, :number, :started_at, :finished_at, :log_path, :pid, :exit_code, :status, :detail, :last_progress)
ON CONFLICT (run_id, number) DO UPDATE
SET finished_at = excluded.finished_at,
    pid = excluded.pid,
    exit_code = excluded.exit_code,
    status = excluded.status,
    detail = excluded.detail,
    last_progress = excluded.last_progress
`, attempt)
	return err
}

func (p *PostgresRecorder) RunFinished(ctx context.Context, run *models.Run) error {
	return p.upsertRun(ctx, run)
}

func (p *PostgresRecorder) upsertRun(ctx context.Context, run *models.Run) error {
	_, err := p.db.NamedExecContext(ctx, `
INSERT INTO ingest_run (id, started_at, finished_at, status, max_attempts, error)
VALUES (:id, :started_at, :finished_at, :status, :max_attempts, :error)
ON CONFLICT (id) DO UPDATE
SET finished_at = excluded.finished_at,
    status = excluded.status,
    error = excluded.error
`, run)
	return err
}

// Attempts lists the recorded attempts of a run in order
func (p *PostgresRecorder) Attempts(ctx context.Context, runID string) ([]models.Attempt, error) {
	var attempts []models.Attempt
	err := p.db.SelectContext(ctx, &attempts, `
SELECT run_id, number, started_at, finished_at, log_path, pid, exit_code, status, detail, last_progress
FROM ingest_attempt
WHERE run_id = $1
ORDER BY number`, runID)
	return attempts, err
}

// LatestRun returns the most recently started run
func (p *PostgresRecorder) LatestRun(ctx context.Context) (*models.Run, error) {
	var run models.Run
	err := p.db.GetContext(ctx, &run, `
SELECT id, started_at, finished_at, status, max_attempts, error
FROM ingest_run
ORDER BY started_at DESC
LIMIT 1`)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
