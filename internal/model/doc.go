// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the stores, the
// conversation state machine, the streaming applicator and the sync engine.
// It has no dependencies on any of them.
//
// # Key Types
//
//   - ConversationHeader: Lightweight metadata kept in the index
//   - ConversationBody: Message array plus selected model, stored per conversation
//   - Message: Single message with role, content, reasoning and attachments
//   - ConversationIndex / FolderIndex: Ordered id lists with by-id maps
//   - AssetRef / AssetRecord: Attachment references and stored blobs
//   - Provider: Tagged variant of a built-in or custom model provider
//   - SyncMetadata: Local bookkeeping for the remote reconciliation engine
//
// # Usage
//
// Build an index and add headers newest-first:
//
//	idx := model.NewConversationIndex()
//	idx.Upsert(model.ConversationHeader{ID: model.NewConversationID(), Title: model.DefaultTitle})
//
// Messages are created with generated ids:
//
//	msg := model.NewMessage(model.RoleUser, "Hello!")
package model
