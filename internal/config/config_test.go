package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAreValid(t *testing.T) {
	cfg := Load()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 600, cfg.ChunkSize)
	require.Equal(t, 100, cfg.ChunkOverlap)
	require.Equal(t, 200, cfg.MergeThresholdWords)
	require.InDelta(t, 0.8, cfg.DuplicateOverlapRatio, 1e-9)
	require.Equal(t, 3*time.Second, cfg.ArxivRateLimitDelay)
}

func TestValidateRejectsOverlapNotBelowWindow(t *testing.T) {
	t.Setenv("PAPERFLOW_CHUNK_SIZE", "100")
	t.Setenv("PAPERFLOW_CHUNK_OVERLAP", "100")
	err := Load().Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "chunk overlap")
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("PAPERFLOW_STORAGE_BACKEND", "elastic")
	require.ErrorContains(t, Load().Validate(), "unknown storage backend")
}

func TestGetenvDurationAcceptsSeconds(t *testing.T) {
	t.Setenv("PAPERFLOW_ARXIV_RATE_LIMIT_DELAY", "1.5")
	require.Equal(t, 1500*time.Millisecond, Load().ArxivRateLimitDelay)

	t.Setenv("PAPERFLOW_ARXIV_RATE_LIMIT_DELAY", "250ms")
	require.Equal(t, 250*time.Millisecond, Load().ArxivRateLimitDelay)

	t.Setenv("PAPERFLOW_ARXIV_RATE_LIMIT_DELAY", "soon")
	require.Equal(t, 3*time.Second, Load().ArxivRateLimitDelay)
}
