package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"ingestrunner/internal/models"
)

const (
	embeddingsPath = "/api/embeddings"
	maxRawBytes    = 512
	maxBodyBytes   = 1 << 20
)

var (
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrMissingEmbedding = errors.New("response has no embedding")
)

type Config struct {
	URL     string        // base URL of the embedding service
	Model   string        // embedding model name
	Prompt  string        // synthetic prompt
	Timeout time.Duration // request timeout, defaults to 10 seconds
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding json.RawMessage `json:"embedding"`
}

// Prober health-checks the embedding service with one synthetic embedding request.
// Requests go through a circuit breaker so repeated scheduled runs fail fast while the service is down.
type Prober struct {
	cfg    Config
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
}

func New(cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "embedding-probe",
		MaxRequests: 1,
		Timeout:     5 * time.Minute, // wait before letting a probe through again
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
		},
	})

	return &Prober{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     cb,
	}
}

// Probe sends one embedding request and classifies the dependency. It never retries; a service which
// answers without an embedding is reported unhealthy just like an unreachable one.
func (p *Prober) Probe(ctx context.Context) models.HealthCheckResult {
	start := time.Now()
	var result models.HealthCheckResult

	body, err := p.cb.Execute(func() ([]byte, error) {
		status, body, err := p.send(ctx)
		result.StatusCode = status
		if err != nil {
			return body, err
		}
		return body, validate(status, body)
	})

	result.Duration = time.Since(start)
	result.Raw = truncate(body)
	result.Err = err
	result.Healthy = err == nil

	evt := log.Info()
	if !result.Healthy {
		evt = log.Error().Err(err).Str("response", result.Raw)
	}
	evt.Str("url", p.cfg.URL+embeddingsPath).
		Str("model", p.cfg.Model).
		Int("status_code", result.StatusCode).
		Dur("duration", result.Duration).
		Bool("healthy", result.Healthy).
		Msg("Embedding service health check")

	return result
}

func (p *Prober) send(ctx context.Context) (int, []byte, error) {
	payload, err := json.Marshal(embeddingRequest{Model: p.cfg.Model, Prompt: p.cfg.Prompt})
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL+embeddingsPath, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("embedding request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Debug().Err(err).Msg("Could not close probe response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, body, fmt.Errorf("read embedding response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// validate inspects the response structure: HTTP success alone is not enough
func validate(status int, body []byte) error {
	if status < 200 || status > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("malformed embedding response: %w", err)
	}
	if len(resp.Embedding) == 0 || string(resp.Embedding) == "null" {
		return ErrMissingEmbedding
	}

	var vector []float64
	if err := json.Unmarshal(resp.Embedding, &vector); err != nil {
		return fmt.Errorf("malformed embedding: %w", err)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrMissingEmbedding)
	}
	return nil
}

func truncate(body []byte) string {
	if len(body) > maxRawBytes {
		return string(body[:maxRawBytes]) + "..."
	}
	return string(body)
}
