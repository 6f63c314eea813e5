// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kv provides the durable key-value substrate that simple-chat keeps
// its conversations, settings and attachments in.
//
// Two interchangeable backends implement Store:
//
//   - SQLite (modernc.org/sqlite, pure Go, WAL journal): the default
//   - bbolt (go.etcd.io/bbolt): a single-file B+tree, one bucket per namespace
//
// Values are opaque byte slices. Callers encode records as JSON themselves.
//
// # Usage
//
//	db, err := kv.Open(kv.BackendSQLite, "~/.simple-chat/data.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	err = db.Put(ctx, kv.BucketMeta, "settings", data)
//	data, err = db.Get(ctx, kv.BucketMeta, "settings") // kv.ErrNotFound if absent
package kv
