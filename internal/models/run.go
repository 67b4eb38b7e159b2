package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// This file contains the models describing a supervised ingestion run and its attempts

type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunSucceeded   RunStatus = "succeeded"
	RunFailed      RunStatus = "failed"       // all attempts exhausted
	RunAborted     RunStatus = "aborted"      // external shutdown request
	RunProbeFailed RunStatus = "probe-failed" // dependency unreachable, no attempt was made
)

type AttemptStatus string

const (
	AsRunning   AttemptStatus = "running"
	AsSucceeded AttemptStatus = "succeeded"
	AsFailed    AttemptStatus = "failed"
	AsTimedOut  AttemptStatus = "timed-out"
	AsKilled    AttemptStatus = "killed"
)

// Terminal reports whether the status is final
func (s AttemptStatus) Terminal() bool {
	return s != AsRunning && s != ""
}

// Run is one invocation of the supervisor. It maps to the `ingest_run` table
type Run struct {
	ID          string      `db:"id" json:"id"`
	StartedAt   time.Time   `db:"started_at" json:"startedAt"`
	FinishedAt  null.Time   `db:"finished_at" json:"finishedAt"`
	Status      RunStatus   `db:"status" json:"status"`
	MaxAttempts int         `db:"max_attempts" json:"maxAttempts"`
	Error       null.String `db:"error" json:"error"`
	Attempts    []*Attempt  `db:"-" json:"attempts"`
}

// Succeeded reports whether any attempt of the run succeeded
func (r *Run) Succeeded() bool {
	for _, a := range r.Attempts {
		if a.Status == AsSucceeded {
			return true
		}
	}
	return false
}

// Attempt is one try of the batch job within a Run. It maps to the `ingest_attempt` table
type Attempt struct {
	RunID      string        `db:"run_id" json:"runId"`
	Number     int           `db:"number" json:"number"`              // 1..MaxAttempts
	StartedAt  time.Time     `db:"started_at" json:"startedAt"`       // launch time
	FinishedAt null.Time     `db:"finished_at" json:"finishedAt"`     // set together with the terminal status
	LogPath    string        `db:"log_path" json:"logPath"`           // per-attempt log sink
	PID        null.Int      `db:"pid" json:"pid"`                    // null if the process never started
	ExitCode   null.Int      `db:"exit_code" json:"exitCode"`         // OS exit code if the process exited on its own
	Status     AttemptStatus `db:"status" json:"status"`              // terminal status
	Detail     null.String   `db:"detail" json:"detail"`              // classification detail, e.g. "exit code: 1" or "unknown"
	Progress   null.String   `db:"last_progress" json:"lastProgress"` // last liveness line seen
}

// Finish sets the terminal status. An attempt that already has a terminal status is left untouched
func (a *Attempt) Finish(status AttemptStatus, detail string) {
	if a.Status.Terminal() {
		return
	}
	a.Status = status
	a.FinishedAt = null.TimeFrom(time.Now().UTC())
	if detail != "" {
		a.Detail = null.StringFrom(detail)
	}
}

// HealthCheckResult is the outcome of probing the inference dependency
type HealthCheckResult struct {
	Healthy    bool
	StatusCode int
	Raw        string // raw (possibly truncated) response body for diagnostics
	Err        error
	Duration   time.Duration
}

// ProgressMarker is a line of an attempt's log sink that matched a recognized pattern
type ProgressMarker struct {
	Line    string
	Pattern string
}
