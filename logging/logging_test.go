package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		SetupWriter(&buf, "debug", "json")

		log.Debug().Str("period", "2026-03").Msg("hello")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "hello", line["message"])
		assert.Equal(t, "2026-03", line["period"])
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		SetupWriter(&buf, "warn", "json")

		log.Info().Msg("dropped")
		assert.Zero(t, buf.Len())
	})

	t.Run("unknown level is info", func(t *testing.T) {
		var buf bytes.Buffer
		SetupWriter(&buf, "loud", "json")
		assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		SetupWriter(&buf, "info", "text")

		log.Info().Msg("charged")
		assert.Contains(t, buf.String(), "charged")
		assert.False(t, json.Valid(buf.Bytes()))
	})
}
