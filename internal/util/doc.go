// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across simple-chat.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//   - WriteJSONFile: atomic indented JSON write
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with an ellipsis
//   - TruncateWidth, PadRight: terminal-column aware layout
//
// # Usage
//
//	title := util.TruncateRunes(firstMessage, 50)
//	err := util.AtomicWriteFile(path, data, 0o600)
package util
