package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "debug", Format: "json", Out: &buf})
	t.Cleanup(func() { Init(Options{Out: &bytes.Buffer{}}) })

	log := Component("executor")
	log.Debug().Str("step", "Delay").Msg("applied")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "executor", entry["component"])
	assert.Equal(t, "Delay", entry["step"])
	assert.Equal(t, "debug", entry["level"])
}

func TestInitDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "bogus", Format: "json", Out: &buf})
	t.Cleanup(func() { Init(Options{Out: &bytes.Buffer{}}) })

	log := Logger()
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestInitFormats(t *testing.T) {
	t.Cleanup(func() { Init(Options{Out: &bytes.Buffer{}}) })

	// a buffer is not a terminal, so auto means JSON
	for _, format := range []string{"", "auto", "JSON"} {
		var buf bytes.Buffer
		log := Init(Options{Format: format, Out: &buf})
		log.Info().Msg("ready")
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "format %q", format)
		assert.Equal(t, "ready", entry["message"])
	}

	var buf bytes.Buffer
	log := Init(Options{Format: "console", Out: &buf})
	log.Info().Msg("ready")
	assert.Contains(t, buf.String(), "ready")
	assert.False(t, json.Valid(buf.Bytes()))
}
