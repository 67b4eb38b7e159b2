package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"ingestrunner/internal/models"
)

// Executor performs one ingestion run
type Executor interface {
	Execute(ctx context.Context) (*models.Run, error)
}

// Scheduler triggers a Run on a cron schedule. A tick that fires while the previous Run is still
// executing is skipped, so Runs never overlap.
type Scheduler struct {
	cron     *cron.Cron
	exec     Executor
	spec     string
	schedule cron.Schedule

	mu      sync.Mutex
	lastRun *models.Run
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates the cron expression. Expressions may carry a CRON_TZ= prefix, otherwise UTC is used
func New(spec string, exec Executor) (*Scheduler, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{cron: c, exec: exec, spec: spec, schedule: schedule}, nil
}

// Next returns the next activation after t
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(time.UTC))
}

// LastRun returns the most recent finished run, or nil
func (s *Scheduler) LastRun() *models.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Run blocks until ctx is done. Cancelling ctx aborts the Run in flight; Run returns once it has finished
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.execute(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	log.Info().
		Str("cron", s.spec).
		Time("next", s.Next(time.Now())).
		Msg("Ingestion scheduler started")

	<-ctx.Done()
	log.Info().Msg("Stopping ingestion scheduler")
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) execute(ctx context.Context) {
	if ctx.Err() != nil {
		return // Context cancelled
	}

	run, err := s.exec.Execute(ctx)
	evt := log.Info()
	if err != nil {
		evt = log.Error().Err(err)
	}
	if run != nil {
		evt = evt.Str("run_id", run.ID).Str("status", string(run.Status))
	}
	evt.Time("next", s.Next(time.Now())).Msg("Scheduled ingestion run finished")

	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()
}

// cronLogger routes cron's own messages to zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
