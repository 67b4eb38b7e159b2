package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoRecord      = errors.New("no process recorded")
	ErrInvalidRecord = errors.New("invalid process record")
)

// Fingerprint identifies a process beyond its PID, which the OS may recycle
type Fingerprint struct {
	PID          int    `json:"pid"`
	CreateTimeMs int64  `json:"create_time_ms"`
	Cmdline      string `json:"cmdline,omitempty"`
}

// Status describes the recorded process as seen by Inspect
type Status struct {
	PID         int
	Alive       bool
	Reused      bool // the PID is alive but belongs to a different process
	Fingerprint *Fingerprint
}

// Guard owns the durable "current process" record. All reads and writes of the record go through it.
//
// The record is a file holding the decimal PID of the supervised job. A JSON sidecar holds the
// job's Fingerprint so that a recycled PID is never signalled. A second sidecar marks a job that was
// terminated from outside, so the supervisor that owns it stops instead of retrying.
type Guard struct {
	pidPath  string
	fpPath   string
	stopPath string
	grace    time.Duration
	tick    time.Duration
}

func New(pidPath string, grace time.Duration) *Guard {
	return &Guard{
		pidPath:  pidPath,
		fpPath:   pidPath + ".json",
		stopPath: pidPath + ".stop",
		grace:    grace,
		tick:     100 * time.Millisecond,
	}
}

// Path returns the location of the PID record
func (g *Guard) Path() string {
	return g.pidPath
}

// Read returns the recorded PID, or ErrNoRecord if the record is absent
func (g *Guard) Read() (int, error) {
	b, err := os.ReadFile(g.pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoRecord
		}
		return 0, err
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return 0, ErrNoRecord
	}
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q in %s", ErrInvalidRecord, raw, g.pidPath)
	}
	return pid, nil
}

func (g *Guard) readFingerprint() (*Fingerprint, error) {
	b, err := os.ReadFile(g.fpPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var fp Fingerprint
	if err := json.Unmarshal(b, &fp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", g.fpPath, err)
	}
	return &fp, nil
}

// Acquire records pid as the owned process. The caller must have started the process already
func (g *Guard) Acquire(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	if err := removeIfExists(g.stopPath); err != nil {
		return fmt.Errorf("clear stop request: %w", err)
	}

	fp, err := fingerprintOf(ctx, pid)
	if err != nil {
		// the process may already have exited, the bare PID is still recorded
		log.Warn().Err(err).Int("pid", pid).Msg("Could not fingerprint process")
	} else {
		b, err := json.Marshal(fp)
		if err != nil {
			return err
		}
		if err := writeFile(g.fpPath, b); err != nil {
			return fmt.Errorf("write fingerprint: %w", err)
		}
	}

	if err := writeFile(g.pidPath, []byte(strconv.Itoa(pid))); err != nil {
		return fmt.Errorf("write pid record: %w", err)
	}
	log.Debug().Int("pid", pid).Str("path", g.pidPath).Msg("Recorded process")
	return nil
}

// Release clears the record together with any stop request. A missing record is not an error
func (g *Guard) Release() error {
	return removeIfExists(g.pidPath, g.fpPath, g.stopPath)
}

// StopRequested reports whether pid was terminated by EnsureExclusive of another caller
func (g *Guard) StopRequested(pid int) bool {
	b, err := os.ReadFile(g.stopPath)
	if err != nil {
		return false
	}
	recorded, err := strconv.Atoi(strings.TrimSpace(string(b)))
	return err == nil && recorded == pid
}

// clear drops the record but leaves a stop request for the owner of the process to see
func (g *Guard) clear() error {
	return removeIfExists(g.pidPath, g.fpPath)
}

// Inspect reports on the recorded process without changing anything
func (g *Guard) Inspect(ctx context.Context) (Status, error) {
	pid, err := g.Read()
	if err != nil {
		return Status{}, err
	}
	st := Status{PID: pid}

	fp, err := g.readFingerprint()
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring unreadable fingerprint")
	}
	st.Fingerprint = fp

	if !alive(ctx, pid) {
		return st, nil
	}
	st.Alive = true
	if fp != nil && fp.CreateTimeMs != 0 {
		current, err := fingerprintOf(ctx, pid)
		if err == nil && current.CreateTimeMs != fp.CreateTimeMs {
			st.Reused = true
		}
	}
	return st, nil
}

// EnsureExclusive eliminates any previously recorded process. If the recorded process is alive it is
// marked as stopped, sent SIGTERM and given the grace period to exit (SIGKILL afterwards). The record is
// cleared in all cases, so when this returns no record names a live process.
func (g *Guard) EnsureExclusive(ctx context.Context) error {
	st, err := g.Inspect(ctx)
	switch {
	case errors.Is(err, ErrNoRecord):
		return nil
	case errors.Is(err, ErrInvalidRecord):
		log.Warn().Err(err).Msg("Clearing invalid process record")
		return g.clear()
	case err != nil:
		return err
	}

	logger := log.With().Int("pid", st.PID).Logger()
	switch {
	case !st.Alive:
		logger.Info().Msg("Clearing stale process record")
	case st.Reused:
		logger.Warn().Msg("Recorded pid now belongs to another process, not signalling it")
	default:
		logger.Info().Msg("Previous ingestion still running, terminating it")
		if err := writeFile(g.stopPath, []byte(strconv.Itoa(st.PID))); err != nil {
			logger.Warn().Err(err).Msg("Could not record stop request")
		}
		if err := g.terminate(ctx, st.PID); err != nil {
			logger.Warn().Err(err).Msg("Could not confirm termination of previous process")
		}
	}

	return g.clear()
}

func (g *Guard) terminate(ctx context.Context, pid int) error {
	if err := Signal(pid, sigTerm); err != nil {
		return err
	}
	if g.waitExit(ctx, pid, g.grace) {
		return nil
	}

	log.Warn().Int("pid", pid).Dur("grace", g.grace).Msg("Process ignored SIGTERM, sending SIGKILL")
	if err := Signal(pid, sigKill); err != nil {
		return err
	}
	if g.waitExit(ctx, pid, g.grace) {
		return nil
	}
	return fmt.Errorf("process %d still alive after SIGKILL", pid)
}

// waitExit polls until pid is gone or the timeout elapses
func (g *Guard) waitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		if !alive(ctx, pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !alive(context.Background(), pid)
		case <-deadline.C:
			return !alive(ctx, pid)
		case <-ticker.C:
		}
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

func removeIfExists(paths ...string) error {
	var errs []error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
