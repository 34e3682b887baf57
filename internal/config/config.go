// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rootgate/internal/ledger"
	"github.com/jeranaias/rootgate/internal/model"
	"github.com/jeranaias/rootgate/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rootgate configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Cache      CacheConfig      `toml:"cache" json:"cache"`
	RateLimit  RateLimitConfig  `toml:"rate_limit" json:"rate_limit"`
	Batch      BatchConfig      `toml:"batch" json:"batch"`
	Credits    CreditsConfig    `toml:"credits" json:"credits"`
	Provider   ProviderConfig   `toml:"provider" json:"provider"`
	Downstream DownstreamConfig `toml:"downstream" json:"downstream"`
	Server     ServerConfig     `toml:"server" json:"server"`
	Log        LogConfig        `toml:"log" json:"log"`
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	Enabled    bool `toml:"enabled" json:"enabled"`
	MaxSize    int  `toml:"max_size" json:"max_size"`
	TTLSeconds int  `toml:"ttl_seconds" json:"ttl_seconds"`
}

// RateLimitConfig contains the downstream sliding window.
type RateLimitConfig struct {
	MaxRequests int `toml:"max_requests" json:"max_requests"`
	WindowMs    int `toml:"window_ms" json:"window_ms"`
}

// BatchConfig contains batch queue settings.
type BatchConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	Size    int  `toml:"size" json:"size"`
	DelayMs int  `toml:"delay_ms" json:"delay_ms"`
}

// CreditsConfig contains ledger thresholds and refresh settings.
type CreditsConfig struct {
	Warning   int `toml:"warning" json:"warning"`
	Critical  int `toml:"critical" json:"critical"`
	Exhausted int `toml:"exhausted" json:"exhausted"`

	// RefreshIntervalSecs enables periodic balance probes when > 0.
	RefreshIntervalSecs int `toml:"refresh_interval_secs" json:"refresh_interval_secs"`

	// HistoryDB is the SQLite file for consumption history. Empty disables it.
	HistoryDB string `toml:"history_db" json:"history_db,omitempty"`
}

// ProviderConfig describes the data provider account.
type ProviderConfig struct {
	ID      string `toml:"id" json:"id"`
	BaseURL string `toml:"base_url" json:"base_url"`
	APIKey  string `toml:"api_key" json:"api_key,omitempty"`
	Level   string `toml:"level" json:"level"`

	// Language is sent to the provider with every call.
	Language string `toml:"language" json:"language"`

	// CatalogPath replaces the built-in tool catalogue with a YAML file.
	CatalogPath string `toml:"catalog_path" json:"catalog_path,omitempty"`
}

// DownstreamConfig contains HTTP client settings.
type DownstreamConfig struct {
	TimeoutSecs      int  `toml:"timeout_secs" json:"timeout_secs"`
	MaxRetries       int  `toml:"max_retries" json:"max_retries"`
	StrictValidation bool `toml:"strict_validation" json:"strict_validation"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`

	// RequestsPerSecond is the per-client limit; 0 disables it.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" json:"burst"`

	// AuthToken, when set, is required as a bearer token on every request.
	AuthToken string `toml:"auth_token" json:"auth_token,omitempty"`
	// AllowedIPs restricts clients to these addresses or CIDR ranges.
	AllowedIPs []string `toml:"allowed_ips" json:"allowed_ips,omitempty"`
}

// LogConfig controls the rotating log file used by serve.
type LogConfig struct {
	File       string `toml:"file" json:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Cache: CacheConfig{
			Enabled:    true,
			MaxSize:    1000,
			TTLSeconds: 300,
		},

		RateLimit: RateLimitConfig{
			MaxRequests: 100,
			WindowMs:    60000,
		},

		Batch: BatchConfig{
			Enabled: false,
			Size:    10,
			DelayMs: 100,
		},

		Credits: CreditsConfig{
			Warning:             100,
			Critical:            20,
			Exhausted:           0,
			RefreshIntervalSecs: 0,
		},

		Provider: ProviderConfig{
			ID:       "rootdata",
			BaseURL:  "https://api.rootdata.com/open",
			Level:    "basic",
			Language: "en",
		},

		Downstream: DownstreamConfig{
			TimeoutSecs: 30,
			MaxRetries:  3,
		},

		Server: ServerConfig{
			Addr:              "127.0.0.1:8787",
			RequestsPerSecond: 10,
			Burst:             20,
		},

		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// CacheTTL returns the cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RateWindow returns the rate limit window.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMs) * time.Millisecond
}

// BatchDelay returns the batch flush delay.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.Batch.DelayMs) * time.Millisecond
}

// RefreshInterval returns the balance probe interval (0 when disabled).
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Credits.RefreshIntervalSecs) * time.Second
}

// DownstreamTimeout returns the per-call HTTP timeout.
func (c *Config) DownstreamTimeout() time.Duration {
	return time.Duration(c.Downstream.TimeoutSecs) * time.Second
}

// Thresholds returns the ledger thresholds.
func (c *Config) Thresholds() ledger.Thresholds {
	return ledger.Thresholds{
		Warning:   c.Credits.Warning,
		Critical:  c.Credits.Critical,
		Exhausted: c.Credits.Exhausted,
	}
}

// ProviderLevel parses the configured account level.
func (c *Config) ProviderLevel() (model.Level, error) {
	return model.ParseLevel(c.Provider.Level)
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rootgate configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rootgate"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions tightens config files to 0600; they hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file(s).
// Tries TOML first, then JSON, and falls back to defaults. Environment
// overrides are applied last. A file that fails to parse is reported
// alongside the defaults.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		fallback, ferr := finish(Default())
		if ferr != nil {
			return nil, ferr
		}
		return fallback, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return finish(Default())
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadFromPath loads configuration from a specific file with env overrides
// and validation. Files ending in .json are read as JSON, anything else
// as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in missing values with defaults. Zero thresholds and
// booleans are legitimate and left alone.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = defaults.Cache.MaxSize
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = defaults.Cache.TTLSeconds
	}

	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = defaults.RateLimit.MaxRequests
	}
	if cfg.RateLimit.WindowMs == 0 {
		cfg.RateLimit.WindowMs = defaults.RateLimit.WindowMs
	}

	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = defaults.Batch.Size
	}
	if cfg.Batch.DelayMs == 0 {
		cfg.Batch.DelayMs = defaults.Batch.DelayMs
	}

	if cfg.Provider.ID == "" {
		cfg.Provider.ID = defaults.Provider.ID
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = defaults.Provider.BaseURL
	}
	if cfg.Provider.Level == "" {
		cfg.Provider.Level = defaults.Provider.Level
	}
	if cfg.Provider.Language == "" {
		cfg.Provider.Language = defaults.Provider.Language
	}

	if cfg.Downstream.TimeoutSecs == 0 {
		cfg.Downstream.TimeoutSecs = defaults.Downstream.TimeoutSecs
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}

	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = defaults.Log.MaxSizeMB
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rootgate configuration file\n")
	buf.WriteString("# Generated by rootgate - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration atomically with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether a field failed validation.
func (e ValidateErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validate checks every section and returns all problems as ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Cache
	if c.Cache.MaxSize < 1 {
		add("cache.max_size", "must be at least 1, got %d", c.Cache.MaxSize)
	}
	if c.Cache.TTLSeconds < 1 {
		add("cache.ttl_seconds", "must be at least 1, got %d", c.Cache.TTLSeconds)
	}

	// Rate limit
	if c.RateLimit.MaxRequests < 1 {
		add("rate_limit.max_requests", "must be at least 1, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.WindowMs < 1 {
		add("rate_limit.window_ms", "must be at least 1, got %d", c.RateLimit.WindowMs)
	}

	// Batch
	if c.Batch.Size < 1 {
		add("batch.size", "must be at least 1, got %d", c.Batch.Size)
	}
	if c.Batch.DelayMs < 0 {
		add("batch.delay_ms", "must not be negative, got %d", c.Batch.DelayMs)
	}

	// Credits
	if err := c.Thresholds().Validate(); err != nil {
		add("credits", "%v", err)
	}
	if c.Credits.RefreshIntervalSecs < 0 {
		add("credits.refresh_interval_secs", "must not be negative, got %d", c.Credits.RefreshIntervalSecs)
	}

	// Provider
	if c.Provider.ID == "" {
		add("provider.id", "must not be empty")
	}
	if u, err := url.Parse(c.Provider.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("provider.base_url", "invalid URL '%s'", c.Provider.BaseURL)
	} else if u.Scheme != "https" && u.Scheme != "http" {
		add("provider.base_url", "scheme must be http or https, got '%s'", u.Scheme)
	}
	if _, err := c.ProviderLevel(); err != nil {
		add("provider.level", "%v (must be one of: basic, plus, pro)", err)
	}

	// Downstream
	if c.Downstream.TimeoutSecs < 1 {
		add("downstream.timeout_secs", "must be at least 1, got %d", c.Downstream.TimeoutSecs)
	}
	if c.Downstream.MaxRetries < 0 || c.Downstream.MaxRetries > 10 {
		add("downstream.max_retries", "must be between 0 and 10, got %d", c.Downstream.MaxRetries)
	}

	// Server
	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.RequestsPerSecond < 0 {
		add("server.requests_per_second", "must not be negative, got %g", c.Server.RequestsPerSecond)
	}
	if c.Server.RequestsPerSecond > 0 && c.Server.Burst < 1 {
		add("server.burst", "must be at least 1 when rate limiting, got %d", c.Server.Burst)
	}
	for _, entry := range c.Server.AllowedIPs {
		if net.ParseIP(entry) == nil {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				add("server.allowed_ips", "invalid address or CIDR '%s'", entry)
			}
		}
	}

	// Log
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		add("log", "rotation limits must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies ROOTGATE_* environment variables:
//   - ROOTGATE_API_KEY: overrides provider.api_key
//   - ROOTGATE_BASE_URL: overrides provider.base_url
//   - ROOTGATE_PROVIDER_ID: overrides provider.id
//   - ROOTGATE_LEVEL: overrides provider.level
//   - ROOTGATE_LANGUAGE: overrides provider.language
//   - ROOTGATE_ADDR: overrides server.addr
//   - ROOTGATE_AUTH_TOKEN: overrides server.auth_token
//   - ROOTGATE_CACHE_ENABLED: overrides cache.enabled
//   - ROOTGATE_RATE_LIMIT: overrides rate_limit.max_requests
//   - ROOTGATE_HISTORY_DB: overrides credits.history_db
//   - ROOTGATE_STRICT: overrides downstream.strict_validation
//   - ROOTGATE_LOG_FILE: overrides log.file
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("ROOTGATE_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}
	if base := os.Getenv("ROOTGATE_BASE_URL"); base != "" {
		c.Provider.BaseURL = base
	}
	if id := os.Getenv("ROOTGATE_PROVIDER_ID"); id != "" {
		c.Provider.ID = id
	}
	if level := os.Getenv("ROOTGATE_LEVEL"); level != "" {
		c.Provider.Level = level
	}
	if lang := os.Getenv("ROOTGATE_LANGUAGE"); lang != "" {
		c.Provider.Language = lang
	}
	if addr := os.Getenv("ROOTGATE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if token := os.Getenv("ROOTGATE_AUTH_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
	if enabled := os.Getenv("ROOTGATE_CACHE_ENABLED"); enabled != "" {
		c.Cache.Enabled = parseBool(enabled)
	}
	if limit := os.Getenv("ROOTGATE_RATE_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			c.RateLimit.MaxRequests = n
		}
	}
	if db := os.Getenv("ROOTGATE_HISTORY_DB"); db != "" {
		c.Credits.HistoryDB = db
	}
	if strict := os.Getenv("ROOTGATE_STRICT"); strict != "" {
		c.Downstream.StrictValidation = parseBool(strict)
	}
	if file := os.Getenv("ROOTGATE_LOG_FILE"); file != "" {
		c.Log.File = file
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "cache.max_size").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"cache.enabled",
		"cache.max_size",
		"cache.ttl_seconds",
		"rate_limit.max_requests",
		"rate_limit.window_ms",
		"batch.enabled",
		"batch.size",
		"batch.delay_ms",
		"credits.warning",
		"credits.critical",
		"credits.exhausted",
		"credits.refresh_interval_secs",
		"credits.history_db",
		"provider.id",
		"provider.base_url",
		"provider.api_key",
		"provider.level",
		"provider.language",
		"provider.catalog_path",
		"downstream.timeout_secs",
		"downstream.max_retries",
		"downstream.strict_validation",
		"server.addr",
		"server.requests_per_second",
		"server.burst",
		"server.auth_token",
		"server.allowed_ips",
		"log.file",
		"log.max_size_mb",
		"log.max_backups",
		"log.max_age_days",
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedIPs != nil {
		clone.Server.AllowedIPs = append([]string(nil), c.Server.AllowedIPs...)
	}
	return &clone
}

// String renders the config as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Provider.APIKey != "" {
		safe.Provider.APIKey = "[REDACTED]"
	}
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
