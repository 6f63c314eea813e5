// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud streams chat completions from OpenAI-compatible endpoints.
//
// OpenAI, OpenRouter, DeepSeek and user-defined custom providers all speak
// the same /chat/completions SSE protocol; this package wraps
// github.com/sashabaranov/go-openai and exposes it as a stream.Backend.
//
// # Key Types
//
//   - Client: stream.Backend for one endpoint and API key
//   - APIError: typed error with Code (HTTP status) and Retryable
//
// # Reasoning
//
// Reasoning arrives either as delta.reasoning_content (DeepSeek, and
// OpenRouter in compatibility mode) or inline between <think> tags. Both
// become reasoning events; everything else is text.
//
// # Retries
//
// Opening a stream is retried with exponential backoff on 429, 5xx and
// network errors. Once the first event has been read, any error is final.
package cloud
