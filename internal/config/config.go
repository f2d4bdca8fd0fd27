// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Provider  ProviderConfig  `toml:"provider"`
	Context   ContextConfig   `toml:"context"`
	Cache     CacheConfig     `toml:"cache"`
	Throttle  ThrottleConfig  `toml:"throttle"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Storage   StorageConfig   `toml:"storage"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ServerConfig contains the HTTP listener configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `toml:"host"`
	// Port is the listen port.
	Port int `toml:"port"`
	// ShutdownTimeoutSecs bounds graceful shutdown.
	ShutdownTimeoutSecs int `toml:"shutdown_timeout_secs"`
}

// ProviderConfig contains the completion provider configuration.
type ProviderConfig struct {
	// APIKey is the provider API key. Prefer the RIGCHAT_API_KEY env var.
	APIKey string `toml:"api_key"`
	// BaseURL is the provider API base URL.
	BaseURL string `toml:"base_url"`
	// Model is the default model identifier.
	Model string `toml:"model"`
	// Temperature is the default sampling temperature (0-2).
	Temperature float64 `toml:"temperature"`
	// MaxTokens is the default completion token cap.
	MaxTokens int `toml:"max_tokens"`
	// TimeoutSecs is the blocking request timeout.
	TimeoutSecs int `toml:"timeout_secs"`
	// RequestsPerSecond paces outbound provider calls.
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ContextConfig contains the conversation-context pipeline settings.
type ContextConfig struct {
	// Strategy is one of none, last_n_tokens, smart, summarize.
	Strategy string `toml:"strategy"`
	// MaxTokens is the history token budget.
	MaxTokens int `toml:"max_tokens"`
	// KeepSystemMessage keeps system messages even over budget.
	KeepSystemMessage bool `toml:"keep_system_message"`
	// KeepFirstMessages is the early-block size for smart/summarize.
	KeepFirstMessages int `toml:"keep_first_messages"`
	// SummarizeThreshold (0..1) gates the summarization call.
	SummarizeThreshold float64 `toml:"summarize_threshold"`
	// MaxSummaryTokens bounds the requested summary.
	MaxSummaryTokens int `toml:"max_summary_tokens"`
}

// CacheConfig contains response cache configuration.
type CacheConfig struct {
	// Enabled controls whether non-streamed responses are cached.
	Enabled bool `toml:"enabled"`
	// TTLMinutes is the entry time-to-live.
	TTLMinutes int `toml:"ttl_minutes"`
	// SweepMinutes is the background sweep interval.
	SweepMinutes int `toml:"sweep_minutes"`
}

// ThrottleConfig contains per-client request limiting configuration.
type ThrottleConfig struct {
	// MaxRequests per window per client identifier.
	MaxRequests int `toml:"max_requests"`
	// WindowSecs is the sliding window length.
	WindowSecs int `toml:"window_secs"`
}

// RetrievalConfig contains the knowledge retrieval settings.
type RetrievalConfig struct {
	// Enabled turns the RAG block on by default.
	Enabled bool `toml:"enabled"`
	// MaxDocuments caps retrieved documents per query.
	MaxDocuments int `toml:"max_documents"`
	// MinScore is the relevance floor.
	MinScore float64 `toml:"min_score"`
}

// StorageConfig contains the local key-value store configuration.
type StorageConfig struct {
	// Path is the SQLite database file. Empty means ~/.rigchat/rigchat.db.
	Path string `toml:"path"`
}

// TelemetryConfig contains metrics and error store configuration.
type TelemetryConfig struct {
	// Capacity is the ring-buffer size for each store.
	Capacity int `toml:"capacity"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "127.0.0.1",
			Port:                8090,
			ShutdownTimeoutSecs: 10,
		},
		Provider: ProviderConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			Model:             "openrouter/auto",
			Temperature:       0.7,
			MaxTokens:         1024,
			TimeoutSecs:       60,
			RequestsPerSecond: 2,
		},
		Context: ContextConfig{
			Strategy:           "summarize",
			MaxTokens:          4000,
			KeepSystemMessage:  true,
			KeepFirstMessages:  2,
			SummarizeThreshold: 0.5,
			MaxSummaryTokens:   150,
		},
		Cache: CacheConfig{
			Enabled:      true,
			TTLMinutes:   60,
			SweepMinutes: 5,
		},
		Throttle: ThrottleConfig{
			MaxRequests: 10,
			WindowSecs:  60,
		},
		Retrieval: RetrievalConfig{
			Enabled:      true,
			MaxDocuments: 3,
			MinScore:     0.3,
		},
		Storage: StorageConfig{
			Path: "",
		},
		Telemetry: TelemetryConfig{
			Capacity: 500,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default location, falling back to
// defaults when no file exists. Environment overrides apply last, then
// validation clamps out-of-range values.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.Validate()
	return cfg, nil
}

// LoadFromPath loads configuration from a specific TOML file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.Validate()
	return cfg, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies RIGCHAT_* environment variables on top of the
// loaded values. Only variables that are set and parseable take effect.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGCHAT_API_KEY"); v != "" {
		c.Provider.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("RIGCHAT_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("RIGCHAT_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("RIGCHAT_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RIGCHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RIGCHAT_CONTEXT_STRATEGY"); v != "" {
		c.Context.Strategy = v
	}
	if v := os.Getenv("RIGCHAT_CONTEXT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Context.MaxTokens = n
		}
	}
	if v := os.Getenv("RIGCHAT_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = b
		}
	}
	if v := os.Getenv("RIGCHAT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// validStrategies are the accepted context trimming strategies.
var validStrategies = map[string]bool{
	"none":          true,
	"last_n_tokens": true,
	"smart":         true,
	"summarize":     true,
}

// Validate clamps out-of-range values to safe bounds rather than failing.
// Misconfiguration degrades to defaults; it never prevents startup.
func (c *Config) Validate() {
	d := Default()

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.ShutdownTimeoutSecs <= 0 {
		c.Server.ShutdownTimeoutSecs = d.Server.ShutdownTimeoutSecs
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = d.Provider.BaseURL
	}
	if c.Provider.Model == "" {
		c.Provider.Model = d.Provider.Model
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		c.Provider.Temperature = d.Provider.Temperature
	}
	if c.Provider.MaxTokens <= 0 {
		c.Provider.MaxTokens = d.Provider.MaxTokens
	}
	if c.Provider.TimeoutSecs <= 0 {
		c.Provider.TimeoutSecs = d.Provider.TimeoutSecs
	}
	if c.Provider.RequestsPerSecond <= 0 {
		c.Provider.RequestsPerSecond = d.Provider.RequestsPerSecond
	}

	if !validStrategies[c.Context.Strategy] {
		c.Context.Strategy = d.Context.Strategy
	}
	if c.Context.MaxTokens <= 0 {
		c.Context.MaxTokens = d.Context.MaxTokens
	}
	if c.Context.KeepFirstMessages < 0 {
		c.Context.KeepFirstMessages = 0
	}
	if c.Context.SummarizeThreshold <= 0 || c.Context.SummarizeThreshold > 1 {
		c.Context.SummarizeThreshold = d.Context.SummarizeThreshold
	}
	if c.Context.MaxSummaryTokens <= 0 {
		c.Context.MaxSummaryTokens = d.Context.MaxSummaryTokens
	}

	if c.Cache.TTLMinutes <= 0 {
		c.Cache.TTLMinutes = d.Cache.TTLMinutes
	}
	if c.Cache.SweepMinutes <= 0 {
		c.Cache.SweepMinutes = d.Cache.SweepMinutes
	}

	if c.Throttle.MaxRequests <= 0 {
		c.Throttle.MaxRequests = d.Throttle.MaxRequests
	}
	if c.Throttle.WindowSecs <= 0 {
		c.Throttle.WindowSecs = d.Throttle.WindowSecs
	}

	if c.Retrieval.MaxDocuments <= 0 {
		c.Retrieval.MaxDocuments = d.Retrieval.MaxDocuments
	}
	if c.Retrieval.MinScore <= 0 || c.Retrieval.MinScore > 1 {
		c.Retrieval.MinScore = d.Retrieval.MinScore
	}

	if c.Telemetry.Capacity <= 0 {
		c.Telemetry.Capacity = d.Telemetry.Capacity
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to a TOML file.
// SECURITY: 0600 permissions; the file may hold the API key.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# rigchat configuration file")
	fmt.Fprintln(file, "# Generated by rigchat - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
