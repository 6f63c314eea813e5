// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry records what the client does.
//
// # Key Types
//
//   - Metrics: Prometheus counters and histograms for responses and syncs
//   - UsageTracker: per-day response history kept on disk
//   - GenerationObservers: fans one generation report out to several observers
//
// # Privacy
//
// Usage tracking is local-only and does not transmit any data. Message
// content is never recorded, only counts and durations.
package telemetry
