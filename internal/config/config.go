// Package config holds the pagescope configuration, loaded from YAML with
// zero values filled by accessor methods.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full pagescope configuration.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	Pool    PoolConfig    `yaml:"pool"`
	Collect CollectConfig `yaml:"collect"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// CacheConfig configures the report cache.
type CacheConfig struct {
	Dir        string `yaml:"dir"`
	MaxEntries int    `yaml:"max_entries"`
	MaxAge     string `yaml:"max_age"`
}

// PoolConfig configures the browser pool.
type PoolConfig struct {
	Capacity         int      `yaml:"capacity"`
	ChromePath       string   `yaml:"chrome_path"`
	Headless         *bool    `yaml:"headless"`
	LaunchFlags      []string `yaml:"launch_flags"`
	ConnectTimeoutMs int      `yaml:"connect_timeout_ms"`
}

// CollectConfig configures the orchestrator.
type CollectConfig struct {
	Concurrency      int    `yaml:"concurrency"`
	AttemptTimeoutMs int    `yaml:"attempt_timeout_ms"`
	Attempts         int    `yaml:"attempts"`
	BackoffMs        int    `yaml:"backoff_ms"`
	MemoryWarnMB     int    `yaml:"memory_warn_mb"`
	MaxCacheAge      string `yaml:"max_cache_age"`
}

// HistoryConfig configures the collection run log.
type HistoryConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Dir:        ".pagescope/cache",
			MaxEntries: 50,
			MaxAge:     "24h",
		},
		Pool: PoolConfig{
			Capacity: 4,
		},
		Collect: CollectConfig{
			Concurrency:      3,
			AttemptTimeoutMs: 90000,
			Attempts:         3,
			BackoffMs:        500,
			MemoryWarnMB:     1024,
			MaxCacheAge:      "1h",
		},
		History: HistoryConfig{
			Path: ".pagescope/history.db",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// CacheMaxAge returns the cache TTL, defaulting to 24h.
func (c CacheConfig) CacheMaxAge() time.Duration {
	return parseDuration(c.MaxAge, 24*time.Hour)
}

// IsHeadless defaults to headless launches.
func (p PoolConfig) IsHeadless() bool {
	if p.Headless == nil {
		return true
	}
	return *p.Headless
}

// ConnectTimeout bounds the DevTools handshake, defaulting to 30s.
func (p PoolConfig) ConnectTimeout() time.Duration {
	if p.ConnectTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.ConnectTimeoutMs) * time.Millisecond
}

// AttemptTimeout wraps one engine invocation, defaulting to 90s.
func (c CollectConfig) AttemptTimeout() time.Duration {
	if c.AttemptTimeoutMs <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.AttemptTimeoutMs) * time.Millisecond
}

// Backoff is the first inter-retry delay, defaulting to 500ms.
func (c CollectConfig) Backoff() time.Duration {
	if c.BackoffMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// FreshnessMaxAge is how stale a cached hit may be, defaulting to 1h.
func (c CollectConfig) FreshnessMaxAge() time.Duration {
	return parseDuration(c.MaxCacheAge, time.Hour)
}

// MemoryWarnBytes is the batch heap warning threshold.
func (c CollectConfig) MemoryWarnBytes() uint64 {
	if c.MemoryWarnMB <= 0 {
		return 1024 << 20
	}
	return uint64(c.MemoryWarnMB) << 20
}

// IsEnabled reports whether the history log is active; default on.
func (h HistoryConfig) IsEnabled() bool {
	if h.Enabled == nil {
		return true
	}
	return *h.Enabled
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
