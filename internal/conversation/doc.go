// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation is the in-memory conversation state machine.
//
// A Manager holds the conversation and folder indexes plus the messages of
// the one open conversation, and bridges them to the durable store. All
// mutations go through Manager methods; readers get copies. Every mutation
// emits a Change to subscribers after the lock is released.
//
// # Key Types
//
//   - Manager: the state machine
//   - Store: the durable store it persists to (storage.ConversationStore)
//   - Change: notification emitted after each mutation
//   - State: a copy of the whole machine for rendering
//
// # Background Generation
//
// Streams address messages by id, not by "the current conversation". When
// the user switches away from a conversation whose loading flag is set, its
// messages move to a detached buffer that message mutators keep updating.
// PersistConversation writes the buffer and releases it once loading ends.
// Opening the conversation again reattaches the buffer instead of reading
// a stale body from disk.
//
// # Persistence
//
// Message mutators never touch the store. PersistCurrentConversation (or
// PersistConversation for a background id) commits the header and the full
// body; callers invoke it after every generation, whatever the outcome.
// CreateNewConversation persists asynchronously and returns the id at once;
// queued writes run in order and every persist waits for them first.
//
// # Usage
//
//	mgr := conversation.NewManager(store, logger)
//	if err := mgr.Hydrate(ctx); err != nil {
//	    return err
//	}
//	id := mgr.CreateNewConversation("", nil)
//	msgID := mgr.AddMessage(model.Message{Role: model.RoleUser, Content: "Hello"})
//	err := mgr.PersistCurrentConversation(ctx)
package conversation
