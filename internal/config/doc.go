// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads simple-chat configuration.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SIMPLECHAT_<SECTION>_<KEY>)
//   - ~/.simple-chat/config.toml, or the path given with --config
//   - Built-in defaults
//
// The result is validated with struct tags; every problem is reported in a
// single ValidateErrors.
//
// # Example
//
//	[storage]
//	backend = "sqlite"
//
//	[remote]
//	kind = "http"
//	base_url = "https://sync.example.com/api"
//	folder = "laptop"
//	auto_sync_interval = "5m"
//
//	[[providers]]
//	kind = "builtin"
//	id = "openai"
//	api_key = "sk-..."
//	models = ["gpt-4o-mini"]
//
//	[preferences]
//	default_model = { provider_id = "openai", model = "gpt-4o-mini" }
//
// Providers and preferences only seed the settings record of a new store;
// afterwards the stored settings are authoritative and sync with the remote.
package config
