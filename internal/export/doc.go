// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export provides data portability for the chat store.
//
// # Backups
//
// A backup is a single JSON Document holding both indexes, every
// conversation body, the providers and preferences, and every asset with its
// bytes:
//
//	{version, timestamp, conversations: {headers, folders, bodies},
//	 providers, preferences, assets}
//
// Importing a backup clears local conversations, folders and assets, writes
// the document, then reloads the conversation manager.
//
//	backup := export.NewBackup(store, assets, manager, logger)
//	doc, err := backup.Export(ctx, file)
//	...
//	doc, err = export.Decode(file)
//	err = backup.Import(ctx, doc)
//
// # Markdown
//
// A single conversation can be written as Markdown with optional frontmatter,
// timestamps and reasoning:
//
//	path, err := export.ExportToFile(&export.Conversation{Header: h, Body: body}, nil)
package export
