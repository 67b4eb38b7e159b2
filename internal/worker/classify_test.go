package worker_test

import (
	"strings"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ingestrunner/internal/models"
	"ingestrunner/internal/worker"
)

var rules = worker.Rules{
	Completion: "Successfully ingested",
	Progress:   []string{"Processing space batch", "Processing page batch", "Processed"},
}

func TestRules_Classify(t *testing.T) {
	cases := []struct {
		name   string
		log    string
		osExit null.Int
		status models.AttemptStatus
		detail string
	}{
		{"completion marker", "Processing space batch 1/1\n🎉 Successfully ingested 42 documents\n", null.IntFrom(0), models.AsSucceeded, "completion marker found"},
		{"marker wins over os exit code", "Successfully ingested 3 pages\nexit code: 1\n", null.IntFrom(2), models.AsSucceeded, "completion marker found"},
		{"zero trailer", "done\nexit code: 0\n", null.IntFrom(5), models.AsSucceeded, "exit code: 0"},
		{"nonzero trailer", "Traceback\nexit code: 1\n", null.IntFrom(0), models.AsFailed, "exit code: 1"},
		{"last trailer counts", "exit code: 0\nretrying\nexit code: 7\n", null.IntFrom(0), models.AsFailed, "exit code: 7"},
		{"no output", "", null.IntFrom(0), models.AsFailed, "unknown"},
		{"no marker", "Processed 10 pages\n", null.IntFrom(0), models.AsFailed, "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := rules.Scan(strings.NewReader(tc.log))
			require.NoError(t, err)

			status, detail := rules.Classify(f, tc.osExit)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.detail, detail)
		})
	}
}

func TestRules_ClassifyExitCodeAuthoritative(t *testing.T) {
	r := rules
	r.ExitCodeAuthoritative = true

	f, err := r.Scan(strings.NewReader("Successfully ingested 3 pages\n"))
	require.NoError(t, err)
	require.NotNil(t, f.Completion)

	status, detail := r.Classify(f, null.IntFrom(1))
	assert.Equal(t, models.AsFailed, status)
	assert.Equal(t, "exit code: 1", detail)

	status, _ = r.Classify(worker.Findings{}, null.IntFrom(0))
	assert.Equal(t, models.AsSucceeded, status)

	status, detail = r.Classify(worker.Findings{}, null.Int{})
	assert.Equal(t, models.AsFailed, status)
	assert.Equal(t, "terminated by signal", detail)
}

func TestRules_Scan(t *testing.T) {
	log := strings.Join([]string{
		"Processing space batch 1/2",
		"  Processing page batch 3/9 for Docs",
		"unrelated",
		"exit code: 0",
	}, "\n")

	f, err := rules.Scan(strings.NewReader(log))
	require.NoError(t, err)

	assert.Equal(t, 4, f.Lines)
	assert.Nil(t, f.Completion)
	assert.Equal(t, null.IntFrom(0), f.Trailer)
	require.NotNil(t, f.Progress)
	assert.Equal(t, "Processing page batch 3/9 for Docs", f.Progress.Line)
	assert.Equal(t, "Processing page batch", f.Progress.Pattern)
}

func TestRules_LastProgress(t *testing.T) {
	assert.Nil(t, rules.LastProgress(nil))
	assert.Nil(t, rules.LastProgress([]string{"a", "b"}))

	pm := rules.LastProgress([]string{"Processing space batch 1/3", "noise", "Processed 40 pages", "noise"})
	require.NotNil(t, pm)
	assert.Equal(t, "Processed 40 pages", pm.Line)
}

func TestRules_ScanOverlongLine(t *testing.T) {
	log := "Processing space batch 1/1\n" + strings.Repeat("x", 2<<20) + "\nSuccessfully ingested 10 documents\nexit code: 0\n"

	f, err := rules.Scan(strings.NewReader(log))
	require.NoError(t, err)

	assert.Equal(t, 4, f.Lines)
	require.NotNil(t, f.Completion)
	assert.Equal(t, "Successfully ingested 10 documents", f.Completion.Line)
	assert.Equal(t, null.IntFrom(0), f.Trailer)

	status, _ := rules.Classify(f, null.IntFrom(0))
	assert.Equal(t, models.AsSucceeded, status)
}

func TestRules_ScanUnterminatedLastLine(t *testing.T) {
	f, err := rules.Scan(strings.NewReader("noise\nSuccessfully ingested 2 pages"))
	require.NoError(t, err)

	assert.Equal(t, 2, f.Lines)
	assert.NotNil(t, f.Completion)
}
