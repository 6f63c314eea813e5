// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the simple-chat command line.
//
// Each invocation builds a cobra command tree, loads the config, opens the
// App on first use and closes it before returning the exit code. All
// commands accept --json and then print a JSONResponse envelope instead of
// styled text.
//
// # Usage
//
//	os.Exit(cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
//
// # Commands Overview
//
//   - ask, regenerate: send a message and stream the reply
//   - chats: list, show, new, rename, move, rm, export
//   - folders: list, create, rename, rm
//   - assets: list, add, get, rm
//   - sync: sync, push, pull, status
//   - backup: export, import
//   - models: list providers and models, set the default model
//   - stats: usage per day, prune
//   - config: show, path, validate, init
//   - daemon: auto sync and a Prometheus endpoint
//
// Exit codes are listed in errors.go.
package cli
