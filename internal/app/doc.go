// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app assembles the chat client's services from a loaded config.
//
// The blob store and durable store are leaves; the conversation state
// machine depends on both; the generator and the reconciliation engine
// depend on the state machine. New builds them in that order and hands out
// the finished App, which commands use for the life of the process.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	a, err := app.New(ctx, cfg, app.Options{Logger: logger})
//	defer a.Close()
//
//	id := a.Conversations.CreateNewConversation("", nil)
//	res := a.Generator.Send(ctx, id, "Hello", nil)
package app
