package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"ingestrunner/internal/audit"
	"ingestrunner/internal/guard"
	"ingestrunner/internal/models"
)

func TestPrintProcess(t *testing.T) {
	cases := []struct {
		name   string
		status guard.Status
		want   string
	}{
		{"running", guard.Status{PID: 42, Alive: true}, "Ingestion process 42: running"},
		{"stale", guard.Status{PID: 42}, "Ingestion process 42: stale (not running)"},
		{"reused", guard.Status{PID: 42, Alive: true, Reused: true}, "pid reused by another process"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			printProcess(&buf, tc.status)
			assert.Contains(t, buf.String(), tc.want)
		})
	}
}

func TestPrintEvents(t *testing.T) {
	var buf bytes.Buffer
	printEvents(&buf, nil)
	assert.Equal(t, "No audit events\n", buf.String())

	buf.Reset()
	now := time.Now()
	printEvents(&buf, []audit.Event{
		{Kind: audit.EventAttemptFinished, Time: now, RunID: "run-1", Attempt: &models.Attempt{
			Number: 2, Status: models.AsFailed, Detail: null.StringFrom("exit code: 1"),
		}},
		{Kind: audit.EventRunFinished, Time: now, RunID: "run-1", Run: &models.Run{
			Status: models.RunFailed, Error: null.StringFrom("all attempts failed"),
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "attempt_finished")
	assert.Contains(t, out, "exit code: 1")
	assert.Contains(t, out, "run_finished")
	assert.Contains(t, out, "all attempts failed")
}

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	run := &models.Run{
		ID:        "run-7",
		StartedAt: time.Now(),
		Status:    models.RunAborted,
		Error:     null.StringFrom("aborted after 1 attempt(s)"),
	}
	printRun(&buf, run, []models.Attempt{
		{Number: 1, Status: models.AsKilled, Detail: null.StringFrom("stopped by external request"), LogPath: "/var/log/ingest/a1.log"},
	})

	out := buf.String()
	assert.Contains(t, out, "Latest run run-7: aborted")
	assert.Contains(t, out, "error: aborted after 1 attempt(s)")
	assert.Contains(t, out, "stopped by external request")
	assert.Contains(t, out, "/var/log/ingest/a1.log")

	buf.Reset()
	printRun(&buf, &models.Run{ID: "run-8", Status: models.RunRunning}, nil)
	assert.NotContains(t, buf.String(), "ATTEMPT")
}
