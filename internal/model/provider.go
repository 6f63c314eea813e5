// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// PROVIDER VARIANTS
// =============================================================================

// ProviderKind discriminates the provider variants.
type ProviderKind string

const (
	ProviderBuiltin ProviderKind = "builtin"
	ProviderCustom  ProviderKind = "custom"
)

// BuiltinID names a provider shipped with the client.
type BuiltinID string

const (
	BuiltinOpenAI     BuiltinID = "openai"
	BuiltinOpenRouter BuiltinID = "openrouter"
	BuiltinDeepSeek   BuiltinID = "deepseek"
	BuiltinOllama     BuiltinID = "ollama"
)

// builtinBaseURLs are the API roots of the built-in providers.
var builtinBaseURLs = map[BuiltinID]string{
	BuiltinOpenAI:     "https://api.openai.com/v1",
	BuiltinOpenRouter: "https://openrouter.ai/api/v1",
	BuiltinDeepSeek:   "https://api.deepseek.com/v1",
	BuiltinOllama:     "http://127.0.0.1:11434",
}

// BuiltinProvider configures one of the built-in providers.
type BuiltinProvider struct {
	ID      BuiltinID `json:"id" validate:"required,oneof=openai openrouter deepseek ollama"`
	APIKey  string    `json:"apiKey,omitempty"`
	Enabled bool      `json:"enabled"`
	Models  []string  `json:"models,omitempty" validate:"dive,required"`
}

// CustomProvider configures a user-defined OpenAI-compatible endpoint.
type CustomProvider struct {
	ID      string   `json:"id" validate:"required"`
	Name    string   `json:"name" validate:"required"`
	BaseURL string   `json:"baseUrl" validate:"required,url"`
	APIKey  string   `json:"apiKey,omitempty"`
	Enabled bool     `json:"enabled"`
	Models  []string `json:"models,omitempty" validate:"dive,required"`
}

// Provider is a closed union of BuiltinProvider and CustomProvider joined by
// Kind. Exactly one of Builtin or Custom is set, matching Kind.
type Provider struct {
	Kind    ProviderKind
	Builtin *BuiltinProvider `validate:"required_if=Kind builtin"`
	Custom  *CustomProvider  `validate:"required_if=Kind custom"`
}

// NewBuiltinProvider wraps a built-in configuration.
func NewBuiltinProvider(p BuiltinProvider) Provider {
	return Provider{Kind: ProviderBuiltin, Builtin: &p}
}

// NewCustomProvider wraps a custom configuration.
func NewCustomProvider(p CustomProvider) Provider {
	return Provider{Kind: ProviderCustom, Custom: &p}
}

// ID returns the provider identifier used in ModelRef.ProviderID.
func (p Provider) ID() string {
	switch p.Kind {
	case ProviderBuiltin:
		if p.Builtin != nil {
			return string(p.Builtin.ID)
		}
	case ProviderCustom:
		if p.Custom != nil {
			return p.Custom.ID
		}
	}
	return ""
}

// Enabled reports whether the provider may be used.
func (p Provider) Enabled() bool {
	switch p.Kind {
	case ProviderBuiltin:
		return p.Builtin != nil && p.Builtin.Enabled
	case ProviderCustom:
		return p.Custom != nil && p.Custom.Enabled
	}
	return false
}

// BaseURL returns the API root for the provider.
func (p Provider) BaseURL() string {
	switch p.Kind {
	case ProviderBuiltin:
		if p.Builtin != nil {
			return builtinBaseURLs[p.Builtin.ID]
		}
	case ProviderCustom:
		if p.Custom != nil {
			return p.Custom.BaseURL
		}
	}
	return ""
}

// APIKey returns the credential for the provider.
func (p Provider) APIKey() string {
	switch p.Kind {
	case ProviderBuiltin:
		if p.Builtin != nil {
			return p.Builtin.APIKey
		}
	case ProviderCustom:
		if p.Custom != nil {
			return p.Custom.APIKey
		}
	}
	return ""
}

// Models returns the models offered by the provider.
func (p Provider) Models() []string {
	switch p.Kind {
	case ProviderBuiltin:
		if p.Builtin != nil {
			return p.Builtin.Models
		}
	case ProviderCustom:
		if p.Custom != nil {
			return p.Custom.Models
		}
	}
	return nil
}

// IsOllama reports whether the provider speaks the Ollama protocol.
func (p Provider) IsOllama() bool {
	return p.Kind == ProviderBuiltin && p.Builtin != nil && p.Builtin.ID == BuiltinOllama
}

// MarshalJSON flattens the variant into one object with a "kind" field.
func (p Provider) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case ProviderBuiltin:
		if p.Builtin == nil {
			return nil, fmt.Errorf("builtin provider has no configuration")
		}
		return json.Marshal(struct {
			Kind ProviderKind `json:"kind"`
			BuiltinProvider
		}{p.Kind, *p.Builtin})
	case ProviderCustom:
		if p.Custom == nil {
			return nil, fmt.Errorf("custom provider has no configuration")
		}
		return json.Marshal(struct {
			Kind ProviderKind `json:"kind"`
			CustomProvider
		}{p.Kind, *p.Custom})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// UnmarshalJSON decodes the variant selected by the "kind" field.
func (p *Provider) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind ProviderKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Kind {
	case ProviderBuiltin:
		var b BuiltinProvider
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*p = Provider{Kind: ProviderBuiltin, Builtin: &b}
	case ProviderCustom:
		var c CustomProvider
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		*p = Provider{Kind: ProviderCustom, Custom: &c}
	default:
		return fmt.Errorf("unknown provider kind %q", head.Kind)
	}
	return nil
}

// =============================================================================
// PREFERENCES AND SETTINGS
// =============================================================================

// Preferences are user-facing options that travel with sync and export.
type Preferences struct {
	DefaultModel  *ModelRef `json:"defaultModel,omitempty"`
	SystemPrompt  string    `json:"systemPrompt,omitempty"`
	Theme         string    `json:"theme,omitempty"`
	ShowReasoning bool      `json:"showReasoning"`
	AutoSync      bool      `json:"autoSync"`
}

// Settings is the durable record of providers and preferences.
type Settings struct {
	Providers   []Provider  `json:"providers"`
	Preferences Preferences `json:"preferences"`
}

// Provider looks up a provider by id.
func (s *Settings) Provider(id string) (Provider, bool) {
	for _, p := range s.Providers {
		if p.ID() == id {
			return p, true
		}
	}
	return Provider{}, false
}

// EnabledProviders returns the providers that may be used.
func (s *Settings) EnabledProviders() []Provider {
	var out []Provider
	for _, p := range s.Providers {
		if p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}
