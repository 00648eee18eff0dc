package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestConfigureLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	ConfigureLogger(&buf, false)
	log.Debug().Msg("hidden")
	log.Info().Str("run_id", "abc").Msg("Created folder")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "Created folder")
	assert.Contains(t, out, "run_id=abc")

	buf.Reset()
	ConfigureLogger(&buf, true)
	log.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "[DEBUG]")
	assert.Contains(t, buf.String(), "visible")
}
