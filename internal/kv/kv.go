// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrUnknownBackend is returned by Open for an unrecognized backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// =============================================================================
// BUCKETS
// =============================================================================

// Bucket names used by simple-chat.
const (
	BucketMeta       = "meta"
	BucketBodies     = "bodies"
	BucketAssets     = "assets"
	BucketAssetBlobs = "asset_blobs"
)

// AllBuckets lists every bucket, in the order Open creates them.
var AllBuckets = []string{BucketMeta, BucketBodies, BucketAssets, BucketAssetBlobs}

// =============================================================================
// STORE
// =============================================================================

// Store is a namespaced key-value store. Implementations are safe for
// concurrent use. Returned byte slices are owned by the caller.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Put creates or replaces the value for key.
	Put(ctx context.Context, bucket, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// Keys returns every key in bucket in ascending order.
	Keys(ctx context.Context, bucket string) ([]string, error)

	// ForEach calls fn for every entry in bucket in ascending key order.
	// fn must not call back into the store.
	ForEach(ctx context.Context, bucket string, fn func(key string, value []byte) error) error

	// Clear removes every entry in bucket.
	Clear(ctx context.Context, bucket string) error

	// Close releases the underlying database.
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBolt   Backend = "bolt"
)

// Open opens (creating if needed) a store of the given backend at path.
func Open(backend Backend, path string) (Store, error) {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	switch Backend(strings.ToLower(string(backend))) {
	case BackendSQLite, "":
		return OpenSQLite(path)
	case BackendBolt:
		return OpenBolt(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
