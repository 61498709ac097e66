package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// BatchInterval is the number of fragments between incremental
	// re-normalization checkpoints. Larger values reduce repair cost at the
	// expense of visible-update latency.
	BatchInterval int `json:"batch_interval"`

	// BreakMode controls how legacy <br/> break blocks are cleaned up:
	// "space" replaces them with a single space, "list" converts them to
	// list-item prefixes.
	BreakMode string `json:"break_mode"`

	// FilterTTLSeconds is how long a loaded filter-rule snapshot stays fresh.
	FilterTTLSeconds int `json:"filter_ttl_seconds"`

	// FilterEnabled disables the content filter entirely when false.
	// Operational switch for debugging; delivery and persistence still run.
	FilterEnabled *bool `json:"filter_enabled,omitempty"`

	// HistoryLimit is the default page size for conversation history.
	HistoryLimit int `json:"history_limit"`

	// Upstream configures the OpenAI-compatible chat completions endpoint.
	Upstream UpstreamConfig `json:"upstream"`

	// Bind is the web server bind address.
	Bind string `json:"bind,omitempty"`

	// Port is the web server port.
	Port int `json:"port,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is
	// locked" errors). 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`
}

// UpstreamConfig holds connection settings for the fragment source.
type UpstreamConfig struct {
	BaseURL     string  `json:"base_url,omitempty"`
	APIKey      string  `json:"api_key,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	enabled := true
	return &Config{
		BatchInterval:    50,
		BreakMode:        "space",
		FilterTTLSeconds: 300,
		FilterEnabled:    &enabled,
		HistoryLimit:     50,
		Bind:             "127.0.0.1",
		Port:             8787,
		Upstream: UpstreamConfig{
			Model:       "deepseek-chat",
			Temperature: 0.7,
			MaxTokens:   800,
		},
	}
}

// FilterOn reports whether the content filter is enabled.
func (c *Config) FilterOn() bool {
	return c.FilterEnabled == nil || *c.FilterEnabled
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.mdmend.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if err := merged.validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for non-zero scalars.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.BatchInterval = overlay.BatchInterval
	if result.BatchInterval == 0 {
		result.BatchInterval = base.BatchInterval
	}

	result.BreakMode = strings.TrimSpace(overlay.BreakMode)
	if result.BreakMode == "" {
		result.BreakMode = base.BreakMode
	}

	result.FilterTTLSeconds = overlay.FilterTTLSeconds
	if result.FilterTTLSeconds == 0 {
		result.FilterTTLSeconds = base.FilterTTLSeconds
	}

	result.FilterEnabled = overlay.FilterEnabled
	if result.FilterEnabled == nil {
		result.FilterEnabled = base.FilterEnabled
	}

	result.HistoryLimit = overlay.HistoryLimit
	if result.HistoryLimit == 0 {
		result.HistoryLimit = base.HistoryLimit
	}

	result.Bind = overlay.Bind
	if result.Bind == "" {
		result.Bind = base.Bind
	}

	result.Port = overlay.Port
	if result.Port == 0 {
		result.Port = base.Port
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	result.Upstream = mergeUpstream(base.Upstream, overlay.Upstream)

	return result
}

// mergeUpstream combines upstream settings; overlay wins if non-zero.
func mergeUpstream(base, overlay UpstreamConfig) UpstreamConfig {
	result := overlay
	if result.BaseURL == "" {
		result.BaseURL = base.BaseURL
	}
	if result.APIKey == "" {
		result.APIKey = base.APIKey
	}
	if result.Model == "" {
		result.Model = base.Model
	}
	if result.Temperature == 0 {
		result.Temperature = base.Temperature
	}
	if result.MaxTokens == 0 {
		result.MaxTokens = base.MaxTokens
	}
	return result
}

// validate rejects values the pipeline cannot run with.
func (c *Config) validate() error {
	if c.BatchInterval < 1 {
		return errors.New("batch_interval must be >= 1")
	}
	if c.BreakMode != "space" && c.BreakMode != "list" {
		return errors.New(`break_mode must be "space" or "list"`)
	}
	if c.FilterTTLSeconds < 0 {
		return errors.New("filter_ttl_seconds must not be negative")
	}
	return nil
}
