// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream folds model backend output into conversation messages.
//
// A Backend turns a Request into an EventStream: a finite, non-restartable
// sequence of text and reasoning events ending in io.EOF. Apply consumes the
// stream into one placeholder message through the Target mutators and
// reports whether the response completed, was aborted, or failed.
//
// Generator wraps Apply with the rest of a generation: model and provider
// resolution, request history, the placeholder message, loading flags,
// per-conversation cancellation, the error policy and the final persist.
//
// # Error Policy
//
//   - Configuration errors (ErrNoProvider, ErrNoModel) become a synthetic
//     assistant message carrying the error. No request is made.
//   - Backend errors attach to the placeholder if it has no content yet,
//     otherwise a new assistant message carries them. Partial output stays.
//   - Cancellation marks the placeholder aborted, never errored.
package stream
