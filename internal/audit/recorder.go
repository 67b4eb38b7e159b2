package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ingestrunner/internal/models"
)

// Recorder receives every state transition of a Run worth keeping for post-mortems.
// Implementations must not block for long; errors are logged by the caller and never fail the Run.
type Recorder interface {
	RunStarted(ctx context.Context, run *models.Run) error
	AttemptFinished(ctx context.Context, run *models.Run, attempt *models.Attempt) error
	RunFinished(ctx context.Context, run *models.Run) error
}

type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventAttemptFinished EventKind = "attempt_finished"
	EventRunFinished     EventKind = "run_finished"
)

// Event is the serialized form of a transition, shared by the file log and the event queue
type Event struct {
	Kind    EventKind       `json:"kind"`
	Time    time.Time       `json:"time"`
	RunID   string          `json:"runId"`
	Run     *models.Run     `json:"run,omitempty"`
	Attempt *models.Attempt `json:"attempt,omitempty"`
}

func NewRunEvent(kind EventKind, run *models.Run) Event {
	return Event{Kind: kind, Time: time.Now().UTC(), RunID: run.ID, Run: run}
}

func NewAttemptEvent(run *models.Run, attempt *models.Attempt) Event {
	return Event{Kind: EventAttemptFinished, Time: time.Now().UTC(), RunID: run.ID, Attempt: attempt}
}

// Multi fans every call out to all recorders. One failing recorder does not stop the others
type Multi []Recorder

func (m Multi) RunStarted(ctx context.Context, run *models.Run) error {
	return m.each(func(r Recorder) error { return r.RunStarted(ctx, run) })
}

func (m Multi) AttemptFinished(ctx context.Context, run *models.Run, attempt *models.Attempt) error {
	return m.each(func(r Recorder) error { return r.AttemptFinished(ctx, run, attempt) })
}

func (m Multi) RunFinished(ctx context.Context, run *models.Run) error {
	return m.each(func(r Recorder) error { return r.RunFinished(ctx, run) })
}

func (m Multi) each(f func(Recorder) error) error {
	var errs []error
	for _, r := range m {
		if err := f(r); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", r, err))
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything
type Nop struct{}

func (Nop) RunStarted(context.Context, *models.Run) error                       { return nil }
func (Nop) AttemptFinished(context.Context, *models.Run, *models.Attempt) error { return nil }
func (Nop) RunFinished(context.Context, *models.Run) error                      { return nil }
