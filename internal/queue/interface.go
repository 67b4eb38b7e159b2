package queue

import (
	"context"

	"ingestrunner/internal/audit"
	"ingestrunner/internal/models"
)

// Client defines the interface for event queue operations
type Client interface {
	Publish(ctx context.Context, event audit.Event) error
	Subscribe(ctx context.Context, handler func(audit.Event)) error
	Close() error
}

// Publisher forwards run transitions to the event queue so other systems can react to finished ingestions
type Publisher struct {
	client Client
}

func NewPublisher(client Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) RunStarted(ctx context.Context, run *models.Run) error {
	return p.client.Publish(ctx, audit.NewRunEvent(audit.EventRunStarted, run))
}

func (p *Publisher) AttemptFinished(ctx context.Context, run *models.Run, attempt *models.Attempt) error {
	return p.client.Publish(ctx, audit.NewAttemptEvent(run, attempt))
}

func (p *Publisher) RunFinished(ctx context.Context, run *models.Run) error {
	return p.client.Publish(ctx, audit.NewRunEvent(audit.EventRunFinished, run))
}
