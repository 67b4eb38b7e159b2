package worker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxSinkSuffix = 100
	tailWindow    = 64 * 1024
)

// openSink creates the append-only log sink of an attempt. Names are derived from the launch time
// and attempt number; an existing file is never reused, a numeric suffix is added instead.
func openSink(dir string, at time.Time, n int) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	base := fmt.Sprintf("ingest_%s_attempt%d", at.Format("20060102_150405"), n)
	for i := 0; i < maxSinkSuffix; i++ {
		name := base + ".log"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.log", base, i)
		}
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no free log sink name for %s in %s", base, dir)
}

// tail returns up to n trailing lines of the file at path
func tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := info.Size() - tailWindow
	if offset < 0 {
		offset = 0
	}
	buf, err := io.ReadAll(io.NewSectionReader(f, offset, info.Size()-offset))
	if err != nil {
		return nil, err
	}

	buf = bytes.TrimRight(buf, "\n")
	if len(buf) == 0 {
		return nil, nil
	}
	lines := strings.Split(string(buf), "\n")
	if offset > 0 && len(lines) > 1 {
		lines = lines[1:] // first line is likely cut
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
