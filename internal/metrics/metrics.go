package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"ingestrunner/internal/models"
)

// Recorder keeps Prometheus metrics about runs and attempts and, when a textfile path is set, writes them
// for the node exporter textfile collector after every run. Runs are batch jobs so nothing is scraped
// from the supervisor directly.
type Recorder struct {
	registry *prometheus.Registry
	textfile string
	mu       sync.Mutex

	AttemptsTotal   *prometheus.CounterVec
	RunsTotal       *prometheus.CounterVec
	RunInProgress   prometheus.Gauge
	LastRunTime     prometheus.Gauge
	LastRunDuration prometheus.Gauge
	LastRunSuccess  prometheus.Gauge
}

func New(textfile string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		textfile: textfile,

		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_attempts_total",
				Help: "Ingestion attempts by terminal status",
			},
			[]string{"status"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Ingestion runs by outcome",
			},
			[]string{"status"},
		),
		RunInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_run_in_progress",
			Help: "1 while an ingestion run is executing",
		}),
		LastRunTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_last_run_timestamp_seconds",
			Help: "Unix time the last ingestion run finished",
		}),
		LastRunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_last_run_duration_seconds",
			Help: "Wall-clock duration of the last ingestion run",
		}),
		LastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_last_run_success",
			Help: "1 if the last ingestion run succeeded",
		}),
	}
}

func (r *Recorder) RunStarted(context.Context, *models.Run) error {
	r.RunInProgress.Set(1)
	return r.flush()
}

func (r *Recorder) AttemptFinished(_ context.Context, _ *models.Run, attempt *models.Attempt) error {
	r.AttemptsTotal.WithLabelValues(string(attempt.Status)).Inc()
	return nil
}

func (r *Recorder) RunFinished(_ context.Context, run *models.Run) error {
	r.RunInProgress.Set(0)
	r.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	if run.FinishedAt.Valid {
		r.LastRunTime.Set(float64(run.FinishedAt.Time.Unix()))
		r.LastRunDuration.Set(run.FinishedAt.Time.Sub(run.StartedAt).Seconds())
	}
	if run.Status == models.RunSucceeded {
		r.LastRunSuccess.Set(1)
	} else {
		r.LastRunSuccess.Set(0)
	}
	return r.flush()
}

func (r *Recorder) flush() error {
	if r.textfile == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(r.textfile), 0o755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(r.textfile, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
