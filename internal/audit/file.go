package audit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"ingestrunner/internal/models"
)

// FileRecorder appends one JSON document per event to a local file
type FileRecorder struct {
	path string
	mu   sync.Mutex
}

func NewFileRecorder(path string) *FileRecorder {
	return &FileRecorder{path: path}
}

func (f *FileRecorder) RunStarted(_ context.Context, run *models.Run) error {
	return f.append(NewRunEvent(EventRunStarted, run))
}

func (f *FileRecorder) AttemptFinished(_ context.Context, run *models.Run, attempt *models.Attempt) error {
	return f.append(NewAttemptEvent(run, attempt))
}

func (f *FileRecorder) RunFinished(_ context.Context, run *models.Run) error {
	return f.append(NewRunEvent(EventRunFinished, run))
}

func (f *FileRecorder) append(evt Event) error {
	line, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(line); err != nil {
		_ = file.Close()
		return fmt.Errorf("write audit event: %w", err)
	}
	return file.Close()
}

// ReadRecent returns the last n events of the audit file, oldest first. Unreadable lines are skipped
func ReadRecent(path string, n int) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	if n <= 0 {
		return nil, nil
	}

	ring := make([]Event, 0, n)
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var evt Event
		if err := json.Unmarshal(sc.Bytes(), &evt); err != nil {
			log.Debug().Err(err).Str("path", path).Msg("Skipping malformed audit line")
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, evt)
	}
	return ring, sc.Err()
}
