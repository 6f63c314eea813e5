// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attach stores user attachments in the blob store and prepares them
// for model requests: images inline, text files as text.
package attach
