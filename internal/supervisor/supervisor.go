package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"ingestrunner/internal/audit"
	"ingestrunner/internal/models"
)

var (
	ErrProbeFailed = errors.New("dependency health check failed")
	ErrExhausted   = errors.New("all attempts failed")
	ErrAborted     = errors.New("run aborted")
)

// ExclusiveGuard eliminates any previously recorded job process
type ExclusiveGuard interface {
	EnsureExclusive(ctx context.Context) error
}

type Prober interface {
	Probe(ctx context.Context) models.HealthCheckResult
}

// Resetter clears the downstream store. It never fails the caller
type Resetter interface {
	Reset(ctx context.Context)
}

type AttemptRunner interface {
	RunAttempt(ctx context.Context, runID string, n int) *models.Attempt
}

type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

type Dependencies struct {
	Guard    ExclusiveGuard
	Prober   Prober
	Resetter Resetter
	Runner   AttemptRunner
	Recorder audit.Recorder // optional
}

// Supervisor drives one Run at a time: guard cleanup, dependency probe, then up to MaxAttempts
// attempts, each preceded by a store reset and separated by a constant delay.
type Supervisor struct {
	conf Config
	deps Dependencies

	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

func New(conf Config, deps Dependencies) *Supervisor {
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = 3
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.Nop{}
	}
	return &Supervisor{
		conf:  conf,
		deps:  deps,
		sleep: sleepCtx,
		newID: uuid.NewString,
	}
}

// Execute performs one Run. The returned run is never nil. The error is nil on success and wraps
// ErrProbeFailed, ErrExhausted or ErrAborted otherwise. Cancelling ctx aborts the Run: the in-flight job
// is terminated and no further attempt is made.
func (s *Supervisor) Execute(ctx context.Context) (*models.Run, error) {
	run := &models.Run{
		ID:          s.newID(),
		StartedAt:   time.Now().UTC(),
		Status:      models.RunRunning,
		MaxAttempts: s.conf.MaxAttempts,
	}
	logger := log.With().Str("run_id", run.ID).Logger()
	logger.Info().Int("max_attempts", run.MaxAttempts).Msg("Starting ingestion run")
	s.audit(ctx, logger, func(ctx context.Context) error { return s.deps.Recorder.RunStarted(ctx, run) })

	if err := s.deps.Guard.EnsureExclusive(ctx); err != nil {
		logger.Warn().Err(err).Msg("Could not clear previous process record")
	}
	if ctx.Err() != nil {
		return s.abort(ctx, logger, run)
	}

	if res := s.deps.Prober.Probe(ctx); !res.Healthy {
		if ctx.Err() != nil {
			return s.abort(ctx, logger, run)
		}
		err := fmt.Errorf("%w: %v", ErrProbeFailed, res.Err)
		return s.finish(ctx, logger, run, models.RunProbeFailed, err)
	}

	for n := 1; n <= s.conf.MaxAttempts; n++ {
		if ctx.Err() != nil {
			return s.abort(ctx, logger, run)
		}

		s.deps.Resetter.Reset(ctx)
		attempt := s.deps.Runner.RunAttempt(ctx, run.ID, n)
		run.Attempts = append(run.Attempts, attempt)
		s.audit(ctx, logger, func(ctx context.Context) error {
			return s.deps.Recorder.AttemptFinished(ctx, run, attempt)
		})

		if attempt.Status == models.AsSucceeded {
			return s.finish(ctx, logger, run, models.RunSucceeded, nil)
		}
		if attempt.Status == models.AsKilled || ctx.Err() != nil {
			return s.abort(ctx, logger, run)
		}
		if n == s.conf.MaxAttempts {
			break
		}

		logger.Info().
			Int("attempt", n).
			Str("status", string(attempt.Status)).
			Dur("delay", s.conf.RetryDelay).
			Msg("Attempt did not succeed, retrying after delay")
		if err := s.sleep(ctx, s.conf.RetryDelay); err != nil {
			return s.abort(ctx, logger, run)
		}
	}

	err := fmt.Errorf("%w: %d of %d attempts made", ErrExhausted, len(run.Attempts), s.conf.MaxAttempts)
	return s.finish(ctx, logger, run, models.RunFailed, err)
}

// abort sweeps the guard record once more so no record survives the Run, then ends it as aborted
func (s *Supervisor) abort(ctx context.Context, logger zerolog.Logger, run *models.Run) (*models.Run, error) {
	if err := s.deps.Guard.EnsureExclusive(context.WithoutCancel(ctx)); err != nil {
		logger.Warn().Err(err).Msg("Could not clear process record after shutdown request")
	}
	err := fmt.Errorf("%w after %d attempt(s)", ErrAborted, len(run.Attempts))
	return s.finish(ctx, logger, run, models.RunAborted, err)
}

func (s *Supervisor) finish(ctx context.Context, logger zerolog.Logger, run *models.Run, status models.RunStatus, err error) (*models.Run, error) {
	run.Status = status
	run.FinishedAt = null.TimeFrom(time.Now().UTC())
	if err != nil {
		run.Error = null.StringFrom(err.Error())
	}

	evt := logger.Info()
	switch status {
	case models.RunSucceeded, models.RunAborted:
	default:
		evt = logger.Error().Err(err)
	}
	evt.Str("status", string(status)).
		Int("attempts", len(run.Attempts)).
		Dur("elapsed", run.FinishedAt.Time.Sub(run.StartedAt)).
		Msg("Ingestion run finished")

	s.audit(ctx, logger, func(ctx context.Context) error { return s.deps.Recorder.RunFinished(ctx, run) })
	return run, err
}

// audit calls a recorder with a context that survives shutdown so aborted runs are recorded too
func (s *Supervisor) audit(ctx context.Context, logger zerolog.Logger, f func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := f(ctx); err != nil {
		logger.Warn().Err(err).Msg("Could not record audit event")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
