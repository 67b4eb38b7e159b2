package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/guregu/null/v6"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"ingestrunner/internal/guard"
	"ingestrunner/internal/models"
)

const progressTailLines = 20

// ProcessRecord is the durable "current process" record. The Worker records its child right after launch
// and releases it once the child is confirmed terminal. StopRequested tells whether the child was
// terminated through the record by another process.
type ProcessRecord interface {
	Acquire(ctx context.Context, pid int) error
	Release() error
	StopRequested(pid int) bool
}

type Config struct {
	Command string
	Args    []string
	WorkDir string
	Env     []string // appended to the supervisor's own environment
	LogDir  string

	Timeout          time.Duration // wall-clock budget of one attempt
	PollInterval     time.Duration
	ProgressInterval time.Duration // how often the sink is sampled for liveness
	KillGrace        time.Duration // time between SIGTERM and SIGKILL

	Rules Rules
}

// Worker launches the batch job for one attempt at a time and monitors it until it is terminal
type Worker struct {
	conf   Config
	record ProcessRecord
}

func New(conf Config, record ProcessRecord) *Worker {
	if conf.PollInterval <= 0 {
		conf.PollInterval = 5 * time.Second
	}
	if conf.ProgressInterval <= 0 {
		conf.ProgressInterval = 5 * time.Minute
	}
	if conf.KillGrace <= 0 {
		conf.KillGrace = 5 * time.Second
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 2 * time.Hour
	}
	return &Worker{conf: conf, record: record}
}

// RunAttempt launches attempt n of the run and blocks until the attempt has a terminal status.
// The returned attempt is never nil. Cancelling ctx terminates the job and classifies the attempt killed.
func (w *Worker) RunAttempt(ctx context.Context, runID string, n int) *models.Attempt {
	attempt := &models.Attempt{
		RunID:     runID,
		Number:    n,
		StartedAt: time.Now().UTC(),
		Status:    models.AsRunning,
	}
	logger := log.With().Str("run_id", runID).Int("attempt", n).Logger()

	sink, err := openSink(w.conf.LogDir, attempt.StartedAt, n)
	if err != nil {
		logger.Error().Err(err).Msg("Could not open log sink")
		attempt.Finish(models.AsFailed, fmt.Sprintf("log sink: %v", err))
		return attempt
	}
	attempt.LogPath = sink.Name()
	logger = logger.With().Str("log_path", attempt.LogPath).Logger()

	cmd := exec.Command(w.conf.Command, w.conf.Args...)
	cmd.Dir = w.conf.WorkDir
	cmd.Env = append(os.Environ(), w.conf.Env...)
	cmd.Stdout = sink
	cmd.Stderr = sink
	// own process group so the job survives a supervisor crash and can be signalled as a whole
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err = cmd.Start()
	if cerr := sink.Close(); cerr != nil {
		logger.Warn().Err(cerr).Msg("Could not close log sink")
	}
	if err != nil {
		logger.Error().Err(err).Str("command", w.conf.Command).Msg("Could not launch job")
		attempt.Finish(models.AsFailed, fmt.Sprintf("launch: %v", err))
		return attempt
	}

	pid := cmd.Process.Pid
	attempt.PID = null.IntFrom(int64(pid))
	logger = logger.With().Int("pid", pid).Logger()
	if err := w.record.Acquire(ctx, pid); err != nil {
		logger.Warn().Err(err).Msg("Could not record job process")
	}
	logger.Info().Str("command", w.conf.Command).Strs("args", w.conf.Args).Msg("Attempt started")

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	w.monitor(ctx, logger, attempt, exited)

	if err := w.record.Release(); err != nil {
		logger.Warn().Err(err).Msg("Could not clear process record")
	}

	evt := logger.Info()
	if attempt.Status != models.AsSucceeded {
		evt = logger.Warn()
	}
	evt.Str("status", string(attempt.Status)).
		Str("detail", attempt.Detail.String).
		Dur("elapsed", attempt.FinishedAt.Time.Sub(attempt.StartedAt)).
		Msg("Attempt finished")
	return attempt
}

// monitor waits for the job to exit, the attempt timeout or cancellation, whichever comes first.
// It returns only after the job process has been reaped.
func (w *Worker) monitor(ctx context.Context, logger zerolog.Logger, attempt *models.Attempt, exited <-chan error) {
	pid := int(attempt.PID.Int64)
	deadline := time.NewTimer(w.conf.Timeout)
	defer deadline.Stop()
	poll := time.NewTicker(w.conf.PollInterval)
	defer poll.Stop()
	lastSample := time.Now()

	for {
		select {
		case err := <-exited:
			attempt.ExitCode = exitCodeOf(err)
			if w.record.StopRequested(pid) {
				logger.Warn().Msg("Job was stopped by an external request")
				attempt.Finish(models.AsKilled, "stopped by external request")
				return
			}
			findings, serr := w.conf.Rules.ScanFile(attempt.LogPath)
			if serr != nil {
				logger.Warn().Err(serr).Msg("Could not read log sink")
			}
			if findings.Progress != nil {
				attempt.Progress = null.StringFrom(findings.Progress.Line)
			}
			status, detail := w.conf.Rules.Classify(findings, attempt.ExitCode)
			attempt.Finish(status, detail)
			return

		case <-deadline.C:
			logger.Warn().Dur("timeout", w.conf.Timeout).Msg("Attempt timed out, terminating job")
			w.terminate(logger, pid, exited)
			attempt.Finish(models.AsTimedOut, fmt.Sprintf("timed out after %s", w.conf.Timeout))
			return

		case <-ctx.Done():
			logger.Warn().Err(ctx.Err()).Msg("Shutdown requested, terminating job")
			w.terminate(logger, pid, exited)
			attempt.Finish(models.AsKilled, "terminated by shutdown request")
			return

		case <-poll.C:
			if time.Since(lastSample) < w.conf.ProgressInterval {
				continue
			}
			lastSample = time.Now()
			w.sampleProgress(logger, attempt)
		}
	}
}

func (w *Worker) sampleProgress(logger zerolog.Logger, attempt *models.Attempt) {
	elapsed := time.Since(attempt.StartedAt).Round(time.Second)
	lines, err := tail(attempt.LogPath, progressTailLines)
	if err != nil {
		logger.Debug().Err(err).Msg("Could not sample log sink")
	}
	if pm := w.conf.Rules.LastProgress(lines); pm != nil {
		attempt.Progress = null.StringFrom(pm.Line)
		logger.Info().Dur("elapsed", elapsed).Str("progress", pm.Line).Msg("Job still running")
		return
	}
	logger.Info().Dur("elapsed", elapsed).Msg("Job still running, no progress line yet")
}

// terminate sends SIGTERM to the job's process group, escalates to SIGKILL after the grace period
// and waits for the job to be reaped.
func (w *Worker) terminate(logger zerolog.Logger, pid int, exited <-chan error) {
	if err := guard.Signal(pid, unix.SIGTERM); err != nil {
		logger.Warn().Err(err).Msg("Could not send SIGTERM")
	}

	grace := time.NewTimer(w.conf.KillGrace)
	defer grace.Stop()
	select {
	case <-exited:
		return
	case <-grace.C:
	}

	logger.Warn().Dur("grace", w.conf.KillGrace).Msg("Job ignored SIGTERM, sending SIGKILL")
	if err := guard.Signal(pid, unix.SIGKILL); err != nil {
		logger.Error().Err(err).Msg("Could not send SIGKILL")
	}
	<-exited
}

// exitCodeOf extracts the OS exit code from the result of cmd.Wait. It is null when the process
// died from a signal or the code cannot be determined.
func exitCodeOf(err error) null.Int {
	if err == nil {
		return null.IntFrom(0)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return null.IntFrom(int64(exitErr.ExitCode()))
	}
	return null.Int{}
}
