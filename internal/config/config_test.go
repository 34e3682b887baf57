// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rootgate/internal/model"
)

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, time.Minute, cfg.RateWindow())
	assert.Equal(t, 100*time.Millisecond, cfg.BatchDelay())
	assert.Equal(t, 30*time.Second, cfg.DownstreamTimeout())
	assert.Zero(t, cfg.RefreshInterval())

	th := cfg.Thresholds()
	assert.Equal(t, 100, th.Warning)
	assert.Equal(t, 20, th.Critical)
	assert.Equal(t, 0, th.Exhausted)

	level, err := cfg.ProviderLevel()
	require.NoError(t, err)
	assert.Equal(t, model.LevelBasic, level)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"zero cache size", func(c *Config) { c.Cache.MaxSize = 0 }, "cache.max_size"},
		{"zero ttl", func(c *Config) { c.Cache.TTLSeconds = 0 }, "cache.ttl_seconds"},
		{"zero rate", func(c *Config) { c.RateLimit.MaxRequests = 0 }, "rate_limit.max_requests"},
		{"zero window", func(c *Config) { c.RateLimit.WindowMs = 0 }, "rate_limit.window_ms"},
		{"zero batch", func(c *Config) { c.Batch.Size = 0 }, "batch.size"},
		{"inverted thresholds", func(c *Config) { c.Credits.Warning = 10; c.Credits.Critical = 50 }, "credits"},
		{"negative refresh", func(c *Config) { c.Credits.RefreshIntervalSecs = -1 }, "credits.refresh_interval_secs"},
		{"bad url", func(c *Config) { c.Provider.BaseURL = "not a url" }, "provider.base_url"},
		{"ftp url", func(c *Config) { c.Provider.BaseURL = "ftp://example.com" }, "provider.base_url"},
		{"bad level", func(c *Config) { c.Provider.Level = "gold" }, "provider.level"},
		{"too many retries", func(c *Config) { c.Downstream.MaxRetries = 11 }, "downstream.max_retries"},
		{"no burst", func(c *Config) { c.Server.Burst = 0 }, "server.burst"},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			assert.True(t, verrs.Has(tt.field), "expected %s in %v", tt.field, verrs)
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	c := Default()
	c.Cache.MaxSize = -1
	c.Batch.Size = -1
	c.Provider.Level = "gold"

	var verrs ValidateErrors
	require.ErrorAs(t, c.Validate(), &verrs)
	assert.Len(t, verrs, 3)
	assert.Contains(t, verrs.Error(), "batch.size")
}

func TestLoadFromPath_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[cache]
enabled = false
ttl_seconds = 60

[rate_limit]
max_requests = 3
window_ms = 1000

[credits]
warning = 500
critical = 50
history_db = "/tmp/ledger.db"

[provider]
level = "pro"
`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, time.Minute, cfg.CacheTTL())
	assert.Equal(t, 1000, cfg.Cache.MaxSize, "unset values keep defaults")
	assert.Equal(t, 3, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Second, cfg.RateWindow())
	assert.Equal(t, 500, cfg.Credits.Warning)
	assert.Equal(t, "/tmp/ledger.db", cfg.Credits.HistoryDB)
	assert.Equal(t, "rootdata", cfg.Provider.ID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadFromPath_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"batch":{"enabled":true,"size":4}}`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.True(t, cfg.Batch.Enabled)
	assert.Equal(t, 4, cfg.Batch.Size)
	assert.Equal(t, 100, cfg.Batch.DelayMs)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[provider]\nlevel = \"gold\"\n"), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	var verrs ValidateErrors
	assert.ErrorAs(t, err, &verrs)

	require.NoError(t, os.WriteFile(path, []byte("this is = = not toml"), 0600))
	_, err = LoadFromPath(path)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ROOTGATE_API_KEY", "secret-key")
	t.Setenv("ROOTGATE_LEVEL", "plus")
	t.Setenv("ROOTGATE_CACHE_ENABLED", "false")
	t.Setenv("ROOTGATE_RATE_LIMIT", "7")
	t.Setenv("ROOTGATE_STRICT", "yes")
	t.Setenv("ROOTGATE_LOG_FILE", "/var/log/rootgate.log")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "secret-key", cfg.Provider.APIKey)
	assert.Equal(t, "plus", cfg.Provider.Level)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 7, cfg.RateLimit.MaxRequests)
	assert.True(t, cfg.Downstream.StrictValidation)
	assert.Equal(t, "/var/log/rootgate.log", cfg.Log.File)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Credits.Warning = 250
	cfg.Provider.APIKey = "k"
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 250, loaded.Credits.Warning)
	assert.Equal(t, "k", loaded.Provider.APIKey)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("rate_limit.max_requests")
	require.NoError(t, err)
	assert.Equal(t, 100, v)

	require.NoError(t, cfg.Set("rate_limit.max_requests", "5"))
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	require.NoError(t, cfg.Set("cache.enabled", "false"))
	assert.False(t, cfg.Cache.Enabled)
	require.NoError(t, cfg.Set("server.requests_per_second", 2.5))
	assert.Equal(t, 2.5, cfg.Server.RequestsPerSecond)

	_, err = cfg.Get("nope.key")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("cache.max_size.deeper", 1))

	for _, key := range GetAllKeys() {
		_, err := cfg.Get(key)
		assert.NoError(t, err, key)
	}
}

func TestConfig_StringRedactsKey(t *testing.T) {
	cfg := Default()
	cfg.Provider.APIKey = "super-secret"
	s := cfg.String()
	assert.False(t, strings.Contains(s, "super-secret"))
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "super-secret", cfg.Provider.APIKey)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	got := make(chan *Config, 4)
	stop, err := Watch(path, func(cfg *Config, err error) {
		if err == nil {
			got <- cfg
		}
	})
	require.NoError(t, err)
	defer stop()

	cfg := Default()
	cfg.RateLimit.MaxRequests = 42
	require.NoError(t, SaveTOML(cfg, path))

	select {
	case reloaded := <-got:
		assert.Equal(t, 42, reloaded.RateLimit.MaxRequests)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	assert.NoError(t, stop())
}
