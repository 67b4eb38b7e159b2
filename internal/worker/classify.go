package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"
	"ingestrunner/internal/models"
)

const (
	detailUnknown = "unknown"
	maxLineBytes  = 1024 * 1024
)

var exitCodeTrailer = regexp.MustCompile(`exit code:\s*(-?\d+)`)

// Rules decide how the log sink of a finished attempt is interpreted
type Rules struct {
	Completion            string   // literal completion marker
	Progress              []string // liveness markers, display only
	ExitCodeAuthoritative bool     // when set, the OS exit code decides and markers are diagnostic only
}

// Findings are the recognized markers of one log sink
type Findings struct {
	Completion *models.ProgressMarker // first line holding the completion marker
	Trailer    null.Int               // last "exit code: N" annotation
	Progress   *models.ProgressMarker // last progress line
	Lines      int
}

// Scan reads a whole log sink and collects its markers. Only the first maxLineBytes of a line are
// inspected, the rest of an over-long line is skipped and scanning goes on with the next one.
func (r Rules) Scan(rd io.Reader) (Findings, error) {
	var f Findings
	br := bufio.NewReaderSize(rd, 64*1024)
	for {
		line, err := readLine(br)
		if len(line) > 0 || err == nil {
			f.Lines++
			r.inspect(&f, string(line))
		}
		if errors.Is(err, io.EOF) {
			return f, nil
		}
		if err != nil {
			return f, err
		}
	}
}

func (r Rules) inspect(f *Findings, line string) {
	if f.Completion == nil && r.Completion != "" && strings.Contains(line, r.Completion) {
		f.Completion = &models.ProgressMarker{Line: line, Pattern: r.Completion}
	}
	if m := exitCodeTrailer.FindStringSubmatch(line); m != nil {
		if code, err := strconv.Atoi(m[1]); err == nil {
			f.Trailer = null.IntFrom(int64(code))
		}
	}
	if pm := r.progressOf(line); pm != nil {
		f.Progress = pm
	}
}

// readLine returns the next line without its terminator, truncated to maxLineBytes.
// The error is io.EOF once the sink is exhausted.
func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return line, err
		}
		if room := maxLineBytes - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			line = append(line, chunk...)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// ScanFile is Scan on the sink at path. A missing sink yields no findings
func (r Rules) ScanFile(path string) (Findings, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Findings{}, nil
		}
		return Findings{}, err
	}
	defer file.Close()
	return r.Scan(file)
}

// Classify derives the terminal status of an exited attempt from its findings and the OS exit code
// (null when the process was terminated by a signal).
//
// By default markers take priority: the completion marker means success whatever the OS says,
// then the last "exit code: N" trailer decides. Without either the attempt failed for an unknown reason.
func (r Rules) Classify(f Findings, osExit null.Int) (models.AttemptStatus, string) {
	if r.ExitCodeAuthoritative {
		switch {
		case !osExit.Valid:
			return models.AsFailed, "terminated by signal"
		case osExit.Int64 == 0:
			return models.AsSucceeded, "exit code: 0"
		default:
			return models.AsFailed, fmt.Sprintf("exit code: %d", osExit.Int64)
		}
	}

	switch {
	case f.Completion != nil:
		return models.AsSucceeded, "completion marker found"
	case f.Trailer.Valid && f.Trailer.Int64 == 0:
		return models.AsSucceeded, "exit code: 0"
	case f.Trailer.Valid:
		return models.AsFailed, fmt.Sprintf("exit code: %d", f.Trailer.Int64)
	default:
		return models.AsFailed, detailUnknown
	}
}

func (r Rules) progressOf(line string) *models.ProgressMarker {
	for _, p := range r.Progress {
		if p != "" && strings.Contains(line, p) {
			return &models.ProgressMarker{Line: strings.TrimSpace(line), Pattern: p}
		}
	}
	return nil
}

// LastProgress returns the latest progress marker among lines, or nil
func (r Rules) LastProgress(lines []string) *models.ProgressMarker {
	for i := len(lines) - 1; i >= 0; i-- {
		if pm := r.progressOf(lines[i]); pm != nil {
			return pm
		}
	}
	return nil
}
