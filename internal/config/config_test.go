package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chasewpa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Lookup.MinSamples)
	assert.Equal(t, 10, cfg.Banding.TargetBandWidth)
	assert.Equal(t, 10, cfg.Banding.ScoreRangeWidth)
	assert.Equal(t, 1e-3, cfg.WPA.Epsilon)
	assert.Equal(t, int32(3), cfg.WPA.RoundPlaces)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/wpa-test.db
banding:
  target_band_width: 20
  score_range_width: 5
lookup:
  min_samples: 30
wpa:
  chunk_size: 50
cache:
  ttl: 2m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/wpa-test.db", cfg.DBPath)
	assert.Equal(t, 20, cfg.Banding.TargetBandWidth)
	assert.Equal(t, 5, cfg.Banding.ScoreRangeWidth)
	assert.Equal(t, 30, cfg.Lookup.MinSamples)
	assert.Equal(t, 50, cfg.WPA.ChunkSize)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	// Untouched keys keep their defaults.
	assert.Equal(t, 4, cfg.WPA.Workers)
	assert.Equal(t, 20, cfg.Lookup.DefaultOversLimit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "lookup:\n  min_samples: 30\n")
	t.Setenv("CHASEWPA_MIN_SAMPLES", "45")
	t.Setenv("CHASEWPA_SCORE_RANGE", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.Lookup.MinSamples)
	assert.Equal(t, 4, cfg.Banding.ScoreRangeWidth)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := writeConfig(t, "banding:\n  target_band_width: 0\n")
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBandingRules(t *testing.T) {
	cfg := Default()
	cfg.Banding.TargetBandWidth = 15
	b := cfg.BandingRules()
	assert.Equal(t, 15, b.TargetBandWidth)
	assert.Equal(t, 10, b.ScoreRangeWidth)
}
