package runcmd

import (
	"context"
	"errors"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/qdrant/go-client/qdrant"
	"github.com/spf13/cobra"
	"ingestrunner/internal/audit"
	"ingestrunner/internal/config"
	"ingestrunner/internal/database"
	"ingestrunner/internal/guard"
	"ingestrunner/internal/metrics"
	"ingestrunner/internal/probe"
	"ingestrunner/internal/queue"
	"ingestrunner/internal/store"
	"ingestrunner/internal/supervisor"
	"ingestrunner/internal/worker"
)

var Command = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion supervisor",
	Long:  "Run the ingestion supervisor once or on a cron schedule",
}

func init() {
	Command.AddCommand(onceCmd)
	Command.AddCommand(scheduledCmd)
}

// components holds everything a Supervisor needs plus the connections to close on shutdown
type components struct {
	supervisor *supervisor.Supervisor
	closers    []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Printf("Could not close connection cleanly on shutdown: %v\n", err)
		}
	}
}

func newComponents(ctx context.Context, conf *config.IRConfig) *components {
	c := &components{}

	g := guard.New(conf.Supervisor.PIDFile, conf.KillGrace())

	prober := probe.New(probe.Config{
		URL:     conf.Probe.URL,
		Model:   conf.Probe.Model,
		Prompt:  conf.Probe.Prompt,
		Timeout: conf.ProbeTimeout(),
	})

	client := mustStore(conf)
	c.closers = append(c.closers, client.Close)
	resetter := store.NewResetter(client.GetCollectionsClient(), conf.Store.Collection, conf.StoreTimeout())

	command, args := conf.JobCommand()
	wrk := worker.New(worker.Config{
		Command:          command,
		Args:             args,
		WorkDir:          conf.Job.WorkDir,
		Env:              conf.Job.Env,
		LogDir:           conf.Supervisor.LogDir,
		Timeout:          conf.AttemptTimeout(),
		PollInterval:     conf.PollInterval(),
		ProgressInterval: conf.ProgressInterval(),
		KillGrace:        conf.KillGrace(),
		Rules: worker.Rules{
			Completion:            conf.Markers.Completion,
			Progress:              conf.Markers.Progress,
			ExitCodeAuthoritative: conf.Supervisor.ExitCodeAuthoritative,
		},
	}, g)

	recorders := audit.Multi{metrics.New(conf.Metrics.Textfile)}
	if conf.Audit.File != "" {
		recorders = append(recorders, audit.NewFileRecorder(conf.Audit.File))
	}
	if conf.Database.Enabled {
		db := mustDatabase(ctx, conf)
		c.closers = append(c.closers, db.Close)
		pg := audit.NewPostgresRecorder(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("Could not prepare audit tables: %v", err)
		}
		recorders = append(recorders, pg)
	}
	if conf.Queue.Enabled {
		q := mustQueue(conf)
		c.closers = append(c.closers, q.Close)
		recorders = append(recorders, queue.NewPublisher(q))
	}

	c.supervisor = supervisor.New(
		supervisor.Config{
			MaxAttempts: conf.Supervisor.MaxAttempts,
			RetryDelay:  conf.RetryDelay(),
		},
		supervisor.Dependencies{
			Guard:    g,
			Prober:   prober,
			Resetter: resetter,
			Runner:   wrk,
			Recorder: recorders,
		},
	)
	return c
}

// exitCode maps the outcome of a Run to the process exit status. An aborted run exits cleanly
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, supervisor.ErrAborted):
		return 0
	default:
		return 1
	}
}

func mustStore(conf *config.IRConfig) *qdrant.Client {
	client, err := store.NewClient(store.Config{
		Host:    conf.Store.Host,
		Port:    conf.Store.Port,
		APIKey:  conf.Store.APIKey,
		UseTLS:  conf.Store.UseTLS,
		Timeout: conf.StoreTimeout(),
	})
	if err != nil {
		log.Fatalf("Could not create vector store client: %v", err)
	}
	return client
}

func mustDatabase(ctx context.Context, conf *config.IRConfig) *sqlx.DB {
	db, err := database.New(ctx, conf)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	return db
}

func mustQueue(conf *config.IRConfig) *queue.RedisClient {
	redis, err := queue.NewRedisClient(conf.Queue.Host, conf.Queue.Password, conf.Queue.DB, conf.Queue.MaxEvents)
	if err != nil {
		log.Fatalf("Could not connect to redis queue: %v", err)
	}
	return redis
}
