// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8090 {
		t.Errorf("default port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.Context.Strategy != "summarize" {
		t.Errorf("default strategy = %q, want summarize", cfg.Context.Strategy)
	}
	if cfg.Cache.TTLMinutes != 60 {
		t.Errorf("default cache TTL = %d, want 60", cfg.Cache.TTLMinutes)
	}
	if cfg.Throttle.MaxRequests != 10 || cfg.Throttle.WindowSecs != 60 {
		t.Errorf("default throttle = %d/%ds, want 10/60s", cfg.Throttle.MaxRequests, cfg.Throttle.WindowSecs)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
port = 9000

[provider]
model = "test-model"
temperature = 0.2

[context]
strategy = "smart"
max_tokens = 2000
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Provider.Model != "test-model" {
		t.Errorf("model = %q, want test-model", cfg.Provider.Model)
	}
	if cfg.Context.Strategy != "smart" || cfg.Context.MaxTokens != 2000 {
		t.Errorf("context = %q/%d, want smart/2000", cfg.Context.Strategy, cfg.Context.MaxTokens)
	}
	// Unset sections keep defaults.
	if cfg.Cache.TTLMinutes != 60 {
		t.Errorf("cache TTL = %d, want default 60", cfg.Cache.TTLMinutes)
	}
}

func TestLoadFromPath_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RIGCHAT_API_KEY", "  sk-env-key  ")
	t.Setenv("RIGCHAT_PORT", "7777")
	t.Setenv("RIGCHAT_CACHE_ENABLED", "false")
	t.Setenv("RIGCHAT_CONTEXT_STRATEGY", "last_n_tokens")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Provider.APIKey != "sk-env-key" {
		t.Errorf("api key = %q, want trimmed env value", cfg.Provider.APIKey)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Cache.Enabled {
		t.Error("cache should be disabled via env")
	}
	if cfg.Context.Strategy != "last_n_tokens" {
		t.Errorf("strategy = %q, want last_n_tokens", cfg.Context.Strategy)
	}
}

func TestApplyEnvOverrides_UnparseableIgnored(t *testing.T) {
	t.Setenv("RIGCHAT_PORT", "not-a-number")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Server.Port != 8090 {
		t.Errorf("port = %d, unparseable env must keep default", cfg.Server.Port)
	}
}

func TestValidate_ClampsOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	cfg.Provider.Temperature = 9.5
	cfg.Context.Strategy = "bogus"
	cfg.Context.SummarizeThreshold = 3.0
	cfg.Throttle.MaxRequests = 0

	cfg.Validate()

	if cfg.Server.Port != 8090 {
		t.Errorf("port = %d, want clamped to 8090", cfg.Server.Port)
	}
	if cfg.Provider.Temperature != 0.7 {
		t.Errorf("temperature = %v, want clamped to 0.7", cfg.Provider.Temperature)
	}
	if cfg.Context.Strategy != "summarize" {
		t.Errorf("strategy = %q, want clamped to summarize", cfg.Context.Strategy)
	}
	if cfg.Context.SummarizeThreshold != 0.5 {
		t.Errorf("threshold = %v, want clamped to 0.5", cfg.Context.SummarizeThreshold)
	}
	if cfg.Throttle.MaxRequests != 10 {
		t.Errorf("throttle max = %d, want clamped to 10", cfg.Throttle.MaxRequests)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Server.Port = 9123
	cfg.Provider.Model = "round-trip"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Server.Port != 9123 || loaded.Provider.Model != "round-trip" {
		t.Errorf("round trip lost values: port=%d model=%q", loaded.Server.Port, loaded.Provider.Model)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(Default(), path); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	cfg := Default()
	cfg.Server.Port = 9555
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-reloaded:
		if got.Server.Port != 9555 {
			t.Errorf("reloaded port = %d, want 9555", got.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
