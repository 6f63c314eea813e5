// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/util"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIMPLECHAT_"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete simple-chat configuration.
type Config struct {
	Storage    StorageConfig    `toml:"storage" json:"storage"`
	Log        LogConfig        `toml:"log" json:"log"`
	Remote     RemoteConfig     `toml:"remote" json:"remote"`
	Generation GenerationConfig `toml:"generation" json:"generation"`

	// Providers and Preferences seed the durable settings record the first
	// time the store is opened. Later edits live in the store.
	Providers   []ProviderConfig  `toml:"providers" json:"providers" validate:"dive"`
	Preferences PreferencesConfig `toml:"preferences" json:"preferences"`
}

// StorageConfig selects the durable key/value backend.
type StorageConfig struct {
	// Backend is "sqlite" (default) or "bolt"
	Backend string `toml:"backend" json:"backend" env:"BACKEND" validate:"oneof=sqlite bolt"`
	// Path is the database file (default: ~/.simple-chat/chat.db)
	Path string `toml:"path" json:"path" env:"PATH" validate:"required"`
	// ObjectURLDir holds transient attachment files (default: system temp dir)
	ObjectURLDir string `toml:"object_url_dir" json:"object_url_dir" env:"OBJECT_URL_DIR"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `toml:"level" json:"level" env:"LEVEL" validate:"oneof=trace debug info warn error disabled"`
	Format string `toml:"format" json:"format" env:"FORMAT" validate:"oneof=console json"`
}

// RemoteConfig selects the sync transport.
type RemoteConfig struct {
	// Kind is "none", "dir" or "http"
	Kind string `toml:"kind" json:"kind" env:"KIND" validate:"oneof=none dir http"`

	// Dir is the synced folder for kind "dir"
	Dir string `toml:"dir" json:"dir" env:"DIR" validate:"required_if=Kind dir"`

	// BaseURL, Folder and Token address the object API for kind "http"
	BaseURL string `toml:"base_url" json:"base_url" env:"BASE_URL" validate:"required_if=Kind http,omitempty,url"`
	Folder  string `toml:"folder" json:"folder" env:"FOLDER" validate:"required_if=Kind http"`
	Token   string `toml:"token" json:"token" env:"TOKEN"`

	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second" env:"REQUESTS_PER_SECOND" validate:"gte=0"`
	Concurrency       int     `toml:"concurrency" json:"concurrency" env:"CONCURRENCY" validate:"gte=0,lte=32"`

	// AutoSyncInterval is the minimum time between automatic syncs. Zero
	// disables automatic sync.
	AutoSyncInterval time.Duration `toml:"auto_sync_interval" json:"auto_sync_interval" env:"AUTO_SYNC_INTERVAL" validate:"gte=0"`
}

// Enabled reports whether a remote is configured.
func (r RemoteConfig) Enabled() bool {
	return r.Kind != "" && r.Kind != "none"
}

// GenerationConfig configures model requests.
type GenerationConfig struct {
	// RequestTimeout bounds one streamed response. Zero means no limit.
	RequestTimeout time.Duration `toml:"request_timeout" json:"request_timeout" env:"REQUEST_TIMEOUT" validate:"gte=0"`
}

// ProviderConfig is a provider entry as written in the config file. It is
// converted into a model.Provider variant by Provider.
type ProviderConfig struct {
	Kind    string   `toml:"kind" json:"kind" validate:"oneof=builtin custom"`
	ID      string   `toml:"id" json:"id" validate:"required"`
	Name    string   `toml:"name" json:"name,omitempty"`
	BaseURL string   `toml:"base_url" json:"base_url,omitempty"`
	APIKey  string   `toml:"api_key" json:"api_key,omitempty"`
	Enabled *bool    `toml:"enabled" json:"enabled,omitempty"`
	Models  []string `toml:"models" json:"models,omitempty"`
}

// Provider converts the entry into its tagged variant. Enabled defaults to
// true.
func (p ProviderConfig) Provider() model.Provider {
	enabled := p.Enabled == nil || *p.Enabled
	if p.Kind == string(model.ProviderCustom) {
		return model.NewCustomProvider(model.CustomProvider{
			ID:      p.ID,
			Name:    p.Name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Enabled: enabled,
			Models:  p.Models,
		})
	}
	return model.NewBuiltinProvider(model.BuiltinProvider{
		ID:      model.BuiltinID(p.ID),
		APIKey:  p.APIKey,
		Enabled: enabled,
		Models:  p.Models,
	})
}

// PreferencesConfig seeds model.Preferences.
type PreferencesConfig struct {
	DefaultModel  *model.ModelRef `toml:"default_model" json:"default_model,omitempty"`
	SystemPrompt  string          `toml:"system_prompt" json:"system_prompt,omitempty"`
	Theme         string          `toml:"theme" json:"theme,omitempty"`
	ShowReasoning bool            `toml:"show_reasoning" json:"show_reasoning"`
	AutoSync      bool            `toml:"auto_sync" json:"auto_sync"`
}

// SeedSettings returns the settings record written to an empty store.
func (c *Config) SeedSettings() model.Settings {
	s := model.Settings{
		Providers: make([]model.Provider, 0, len(c.Providers)),
		Preferences: model.Preferences{
			DefaultModel:  c.Preferences.DefaultModel,
			SystemPrompt:  c.Preferences.SystemPrompt,
			Theme:         c.Preferences.Theme,
			ShowReasoning: c.Preferences.ShowReasoning,
			AutoSync:      c.Preferences.AutoSync,
		},
	}
	for _, p := range c.Providers {
		s.Providers = append(s.Providers, p.Provider())
	}
	return s
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with default values. Paths are rooted at dir.
func Default(dir string) *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    filepath.Join(dir, "chat.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Remote: RemoteConfig{
			Kind:             "none",
			AutoSyncInterval: 5 * time.Minute,
		},
		Generation: GenerationConfig{
			RequestTimeout: 10 * time.Minute,
		},
		Preferences: PreferencesConfig{
			ShowReasoning: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the simple-chat directory, ~/.simple-chat.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".simple-chat"), nil
}

// DefaultPath returns ~/.simple-chat/config.toml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens a config file to 0600. It may hold tokens
// and API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the config at path, which may be empty for the default
// location. A missing file yields the defaults. Environment overrides are
// applied after the file, then the result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg := Default(filepath.Dir(path))

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Undecoded keys are rejected so
// typos do not pass silently.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnvOverrides applies SIMPLECHAT_* environment variables, for example
// SIMPLECHAT_STORAGE_PATH or SIMPLECHAT_REMOTE_TOKEN.
func (c *Config) ApplyEnvOverrides() error {
	sections := []struct {
		prefix string
		target any
	}{
		{"STORAGE_", &c.Storage},
		{"LOG_", &c.Log},
		{"REMOTE_", &c.Remote},
		{"GENERATION_", &c.Generation},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// SaveTOML writes cfg to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# simple-chat configuration file\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0o600, 0o700); err != nil {
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
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"toml", "json"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// Validate checks the configuration and returns ValidateErrors listing every
// problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	errs = append(errs, fieldErrors(validate.Struct(c), "")...)

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.ID != "" && seen[p.ID] {
			errs = append(errs, ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate provider id %q", p.ID)})
		}
		seen[p.ID] = true
		if p.Kind != "builtin" && p.Kind != "custom" {
			continue
		}
		errs = append(errs, fieldErrors(validate.Struct(p.Provider()), field)...)
	}

	if ref := c.Preferences.DefaultModel; ref != nil && len(c.Providers) > 0 && !seen[ref.ProviderID] {
		errs = append(errs, ValidationError{
			Field:   "preferences.default_model.provider_id",
			Message: fmt.Sprintf("unknown provider %q", ref.ProviderID),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// fieldErrors converts validator errors into ValidationErrors. Field paths
// drop the root struct name and are prefixed with prefix.
func fieldErrors(err error, prefix string) ValidateErrors {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidateErrors{{Field: prefix, Message: err.Error()}}
	}
	out := make(ValidateErrors, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		// Provider variants nest their fields under the variant name
		field = strings.TrimPrefix(strings.TrimPrefix(field, "Builtin."), "Custom.")
		if prefix != "" {
			field = prefix + "." + field
		}
		out = append(out, ValidationError{Field: field, Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("invalid value %q, must be one of: %s", fmt.Sprint(fe.Value()), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return fmt.Sprintf("invalid URL %q", fmt.Sprint(fe.Value()))
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// =============================================================================
// DISPLAY
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Providers != nil {
		clone.Providers = make([]ProviderConfig, len(c.Providers))
		for i, p := range c.Providers {
			if p.Enabled != nil {
				enabled := *p.Enabled
				p.Enabled = &enabled
			}
			p.Models = append([]string(nil), p.Models...)
			clone.Providers[i] = p
		}
	}
	if c.Preferences.DefaultModel != nil {
		ref := *c.Preferences.DefaultModel
		clone.Preferences.DefaultModel = &ref
	}
	return &clone
}

// Redacted returns a copy with the remote token and API keys masked.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	if safe.Remote.Token != "" {
		safe.Remote.Token = "[REDACTED]"
	}
	for i := range safe.Providers {
		if safe.Providers[i].APIKey != "" {
			safe.Providers[i].APIKey = "[REDACTED]"
		}
	}
	return safe
}

// String returns the config as JSON with secrets redacted.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data) + "\n"
}
