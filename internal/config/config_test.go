// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ckt1031/simple-chat/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)

	require.Equal(t, "sqlite", cfg.Storage.Backend)
	require.Equal(t, filepath.Join(dir, "chat.db"), cfg.Storage.Path)
	require.Equal(t, "none", cfg.Remote.Kind)
	require.False(t, cfg.Remote.Enabled())
	require.Equal(t, 5*time.Minute, cfg.Remote.AutoSyncInterval)
}

func TestLoad_ReadsTOML(t *testing.T) {
	path := writeConfig(t, `
[storage]
backend = "bolt"
path = "/tmp/chats.bolt"

[log]
level = "debug"
format = "json"

[remote]
kind = "http"
base_url = "https://sync.example.com/api"
folder = "laptop"
requests_per_second = 2.5
auto_sync_interval = "90s"

[generation]
request_timeout = "2m"

[[providers]]
kind = "builtin"
id = "openai"
api_key = "sk-test"
models = ["gpt-4o-mini"]

[[providers]]
kind = "custom"
id = "lab"
name = "Lab server"
base_url = "http://10.0.0.5:8000/v1"
enabled = false

[preferences]
default_model = { provider_id = "openai", model = "gpt-4o-mini" }
system_prompt = "be brief"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "bolt", cfg.Storage.Backend)
	require.Equal(t, "/tmp/chats.bolt", cfg.Storage.Path)
	require.Equal(t, "json", cfg.Log.Format)
	require.True(t, cfg.Remote.Enabled())
	require.Equal(t, "laptop", cfg.Remote.Folder)
	require.Equal(t, 2.5, cfg.Remote.RequestsPerSecond)
	require.Equal(t, 90*time.Second, cfg.Remote.AutoSyncInterval)
	require.Equal(t, 2*time.Minute, cfg.Generation.RequestTimeout)
	require.Len(t, cfg.Providers, 2)

	settings := cfg.SeedSettings()
	require.Len(t, settings.Providers, 2)
	openai, ok := settings.Provider("openai")
	require.True(t, ok)
	require.Equal(t, model.ProviderBuiltin, openai.Kind)
	require.True(t, openai.Enabled(), "enabled defaults to true")
	require.Equal(t, "sk-test", openai.APIKey())

	lab, ok := settings.Provider("lab")
	require.True(t, ok)
	require.Equal(t, model.ProviderCustom, lab.Kind)
	require.False(t, lab.Enabled())
	require.Equal(t, "http://10.0.0.5:8000/v1", lab.BaseURL())

	require.Equal(t, &model.ModelRef{ProviderID: "openai", Model: "gpt-4o-mini"}, settings.Preferences.DefaultModel)
	require.Equal(t, "be brief", settings.Preferences.SystemPrompt)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[remote]
knd = "dir"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "remote.knd")
}

func TestLoad_RejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, "[storage\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_FixesPermissions(t *testing.T) {
	path := writeConfig(t, "")
	require.NoError(t, os.Chmod(path, 0o644))
	_, err := Load(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[remote]
kind = "dir"
dir = "/from/file"
`)
	t.Setenv("SIMPLECHAT_REMOTE_DIR", "/from/env")
	t.Setenv("SIMPLECHAT_REMOTE_AUTO_SYNC_INTERVAL", "30s")
	t.Setenv("SIMPLECHAT_LOG_LEVEL", "warn")
	t.Setenv("SIMPLECHAT_STORAGE_BACKEND", "bolt")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/from/env", cfg.Remote.Dir)
	require.Equal(t, 30*time.Second, cfg.Remote.AutoSyncInterval)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "bolt", cfg.Storage.Backend)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("SIMPLECHAT_REMOTE_REQUESTS_PER_SECOND", "fast")
	_, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.Error(t, err)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"dir remote without dir", func(c *Config) { c.Remote.Kind = "dir" }, "remote.dir"},
		{"http remote without url", func(c *Config) {
			c.Remote.Kind = "http"
			c.Remote.Folder = "f"
		}, "remote.base_url"},
		{"http remote with bad url", func(c *Config) {
			c.Remote.Kind = "http"
			c.Remote.Folder = "f"
			c.Remote.BaseURL = "not a url"
		}, "remote.base_url"},
		{"negative interval", func(c *Config) { c.Remote.AutoSyncInterval = -time.Second }, "remote.auto_sync_interval"},
		{"unknown builtin", func(c *Config) {
			c.Providers = []ProviderConfig{{Kind: "builtin", ID: "acme"}}
		}, "providers[0].id"},
		{"custom without base url", func(c *Config) {
			c.Providers = []ProviderConfig{{Kind: "custom", ID: "lab", Name: "Lab"}}
		}, "providers[0].baseUrl"},
		{"duplicate provider", func(c *Config) {
			c.Providers = []ProviderConfig{{Kind: "builtin", ID: "openai"}, {Kind: "builtin", ID: "openai"}}
		}, "providers[1].id"},
		{"default model on unknown provider", func(c *Config) {
			c.Providers = []ProviderConfig{{Kind: "builtin", ID: "openai"}}
			c.Preferences.DefaultModel = &model.ModelRef{ProviderID: "deepseek", Model: "chat"}
		}, "preferences.default_model.provider_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.mutate(cfg)

			err := cfg.Validate()
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error = %v, want ValidateErrors", err)
			}
			found := false
			for _, ve := range verrs {
				if ve.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want an error on %s", err, tt.field)
			}
		})
	}
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	if err := Default(t.TempDir()).Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

// =============================================================================
// SAVE / DISPLAY TESTS
// =============================================================================

func TestSaveTOML_LoadsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	enabled := true

	cfg := Default(dir)
	cfg.Remote = RemoteConfig{Kind: "dir", Dir: "/sync", AutoSyncInterval: time.Minute}
	cfg.Providers = []ProviderConfig{{Kind: "builtin", ID: "ollama", Enabled: &enabled, Models: []string{"llama3"}}}
	require.NoError(t, SaveTOML(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Remote, loaded.Remote)
	require.Equal(t, cfg.Providers, loaded.Providers)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestString_RedactsSecrets(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Remote.Token = "tok-secret"
	cfg.Providers = []ProviderConfig{{Kind: "builtin", ID: "openai", APIKey: "sk-secret"}}

	s := cfg.String()
	if strings.Contains(s, "tok-secret") || strings.Contains(s, "sk-secret") {
		t.Errorf("String() leaked a secret:\n%s", s)
	}
	if cfg.Remote.Token != "tok-secret" || cfg.Providers[0].APIKey != "sk-secret" {
		t.Error("String() modified the original config")
	}
}

// =============================================================================
// WATCH TESTS
// =============================================================================

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"info\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, path, 20*time.Millisecond, zerolog.Nop(), func(cfg *Config, err error) {
			if err == nil {
				reloaded <- cfg
			}
		})
	}()

	// Keep rewriting until the watcher is registered and reports the change
	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o600))
		select {
		case cfg := <-reloaded:
			require.Equal(t, "debug", cfg.Log.Level)
			cancel()
			require.NoError(t, <-done)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("watcher never reported the change")
		}
	}
}
