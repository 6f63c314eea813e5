// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assets is the content-addressed attachment store.
//
// Every attachment is keyed by the hex SHA-256 of its bytes, so storing the
// same file twice yields one record. Metadata and bytes live in separate kv
// buckets: List reads only metadata.
//
// Lookups of unknown ids return ErrNotFound; they are routine and callers
// are expected to tolerate dangling references.
package assets
