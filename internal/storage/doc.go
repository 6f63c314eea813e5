// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable conversation persistence for simple-chat.
//
// Conversations are split into two regions of the kv store:
//
//   - the index: one record holding every ConversationHeader in display order
//   - bodies: one record per conversation holding its messages and model
//
// Listing and searching touch only the index, so their cost grows with the
// number of conversations rather than the number of messages.
//
// # Key Types
//
//   - ConversationStore: index, bodies, folders, settings and sync metadata
//   - ConversationError: typed error, compare with errors.Is(err, ErrNotFound)
//
// # Usage
//
//	store := storage.NewConversationStore(db, logger)
//	idx := store.ReadIndex(ctx)            // empty index if uninitialized
//	err := store.UpsertHeader(ctx, header) // prepends new ids
//	err = store.WriteBody(ctx, id, body)   // full overwrite
//	body, err := store.ReadBody(ctx, id)   // ErrNotFound if missing or corrupt
//
// # Failure Model
//
// Reads never fail hydration: a missing or corrupt index, folder index,
// settings or sync record decodes as its empty value and is logged. Writes
// return their errors. DeleteConversation removes the index entry and the
// body in two steps; an orphaned body left by a crash is unreachable and
// PruneOrphanBodies collects it.
package storage
