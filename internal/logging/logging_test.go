package logging_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"ingestrunner/internal/logging"
)

func TestInitWriter(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		logging.InitWriter("debug", "json", &buf)

		log.Debug().Str("run_id", "abc").Msg("Probe succeeded")

		assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
		assert.Contains(t, buf.String(), `"run_id":"abc"`)
		assert.Contains(t, buf.String(), `"message":"Probe succeeded"`)
		assert.Contains(t, buf.String(), `"time":`)
	})

	t.Run("console output", func(t *testing.T) {
		var buf bytes.Buffer
		logging.InitWriter("info", "console", &buf)

		log.Info().Int("attempt", 2).Msg("Attempt started")

		assert.Contains(t, buf.String(), "Attempt started")
		assert.Contains(t, buf.String(), "attempt=2")
		assert.NotContains(t, buf.String(), "{")
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logging.InitWriter("chatty", "json", &buf)

		assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
		assert.Contains(t, buf.String(), "Unknown log level")
	})
}
