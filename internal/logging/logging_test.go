package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(Config{Level: "debug", Output: &buf, Service: "worker"}), "indexer")
	log.Info().Str("arxiv_id", "2401.00001").Msg("indexed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "worker", line["service"])
	require.Equal(t, "indexer", line["component"])
	require.Equal(t, "2401.00001", line["arxiv_id"])
	require.Equal(t, "indexed", line["message"])
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "chatty", Output: &buf})
	log.Debug().Msg("hidden")
	require.Zero(t, buf.Len())
	log.Info().Msg("shown")
	require.NotZero(t, buf.Len())
}
