package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4, cfg.Pool.Capacity)
	assert.True(t, cfg.Pool.IsHeadless())
	assert.Equal(t, 24*time.Hour, cfg.Cache.CacheMaxAge())
	assert.Equal(t, time.Hour, cfg.Collect.FreshnessMaxAge())
	assert.Equal(t, 90*time.Second, cfg.Collect.AttemptTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Collect.Backoff())
	assert.EqualValues(t, 1024<<20, cfg.Collect.MemoryWarnBytes())
	assert.True(t, cfg.History.IsEnabled())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagescope.yaml")
	yaml := `
cache:
  dir: /tmp/reports
  max_entries: 10
  max_age: 2h
pool:
  capacity: 8
  headless: false
  chrome_path: /usr/bin/chromium
collect:
  concurrency: 6
  attempts: 5
  max_cache_age: 15m
history:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/reports", cfg.Cache.Dir)
	assert.Equal(t, 10, cfg.Cache.MaxEntries)
	assert.Equal(t, 2*time.Hour, cfg.Cache.CacheMaxAge())
	assert.Equal(t, 8, cfg.Pool.Capacity)
	assert.False(t, cfg.Pool.IsHeadless())
	assert.Equal(t, "/usr/bin/chromium", cfg.Pool.ChromePath)
	assert.Equal(t, 6, cfg.Collect.Concurrency)
	assert.Equal(t, 5, cfg.Collect.Attempts)
	assert.Equal(t, 15*time.Minute, cfg.Collect.FreshnessMaxAge())
	assert.False(t, cfg.History.IsEnabled())

	// Untouched sections keep their defaults.
	assert.Equal(t, 90*time.Second, cfg.Collect.AttemptTimeout())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: ["), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestBadDurationFallsBack(t *testing.T) {
	c := CacheConfig{MaxAge: "yesterday"}
	assert.Equal(t, 24*time.Hour, c.CacheMaxAge())
}
