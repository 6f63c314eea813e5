// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package remote provides the object transports that sync writes to.
//
// A Transport is a flat folder of named objects with list, get, put and
// delete. Sync stores one object per entity:
//
//	config.json                 settings, folders and the conversation manifest
//	chat-<conversation id>.json one per conversation
//	asset-<sha256>.<ext>        raw attachment bytes
//
// Two transports are provided:
//
//   - Dir: a local or mounted directory (network share, synced folder)
//   - HTTP: an object API over HTTP with bearer auth, request pacing and
//     retries on 429 and 5xx
//
// Credentials are the transport's concern. HTTP takes a TokenSource that is
// asked for a token before every request, so refresh stays outside sync.
package remote
