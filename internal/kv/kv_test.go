// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// openBoth returns one store per backend, each in its own temp dir.
func openBoth(t *testing.T) map[Backend]Store {
	t.Helper()
	stores := make(map[Backend]Store)
	for _, b := range []Backend{BackendSQLite, BackendBolt} {
		s, err := Open(b, filepath.Join(t.TempDir(), "data.db"))
		if err != nil {
			t.Fatalf("Open(%s) failed: %v", b, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		stores[b] = s
	}
	return stores
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	for backend, s := range openBoth(t) {
		t.Run(string(backend), func(t *testing.T) {
			_, err := s.Get(ctx, BucketMeta, "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
			}

			require.NoError(t, s.Put(ctx, BucketMeta, "k", []byte("v1")))
			require.NoError(t, s.Put(ctx, BucketMeta, "k", []byte("v2")))
			got, err := s.Get(ctx, BucketMeta, "k")
			require.NoError(t, err)
			require.Equal(t, "v2", string(got))

			// Same key in another bucket is independent
			_, err = s.Get(ctx, BucketBodies, "k")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Delete(ctx, BucketMeta, "k"))
			require.NoError(t, s.Delete(ctx, BucketMeta, "k"))
			_, err = s.Get(ctx, BucketMeta, "k")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_KeysForEachClear(t *testing.T) {
	ctx := context.Background()
	for backend, s := range openBoth(t) {
		t.Run(string(backend), func(t *testing.T) {
			for _, k := range []string{"c", "a", "b"} {
				require.NoError(t, s.Put(ctx, BucketAssets, k, []byte("x"+k)))
			}
			require.NoError(t, s.Put(ctx, BucketMeta, "other", []byte("y")))

			keys, err := s.Keys(ctx, BucketAssets)
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b", "c"}, keys)

			seen := map[string]string{}
			require.NoError(t, s.ForEach(ctx, BucketAssets, func(k string, v []byte) error {
				seen[k] = string(v)
				return nil
			}))
			require.Equal(t, map[string]string{"a": "xa", "b": "xb", "c": "xc"}, seen)

			require.NoError(t, s.Clear(ctx, BucketAssets))
			keys, err = s.Keys(ctx, BucketAssets)
			require.NoError(t, err)
			require.Empty(t, keys)

			// Clear is scoped to one bucket
			_, err = s.Get(ctx, BucketMeta, "other")
			require.NoError(t, err)
		})
	}
}

func TestStore_ForEachStopsOnError(t *testing.T) {
	ctx := context.Background()
	stop := errors.New("stop")
	for backend, s := range openBoth(t) {
		t.Run(string(backend), func(t *testing.T) {
			require.NoError(t, s.Put(ctx, BucketBodies, "a", []byte("1")))
			require.NoError(t, s.Put(ctx, BucketBodies, "b", []byte("2")))

			calls := 0
			err := s.ForEach(ctx, BucketBodies, func(string, []byte) error {
				calls++
				return stop
			})
			require.ErrorIs(t, err, stop)
			require.Equal(t, 1, calls)
		})
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []Backend{BackendSQLite, BackendBolt} {
		t.Run(string(backend), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data.db")
			s, err := Open(backend, path)
			require.NoError(t, err)
			require.NoError(t, s.Put(ctx, BucketAssetBlobs, "h", []byte{0, 1, 2}))
			require.NoError(t, s.Close())

			s, err = Open(backend, path)
			require.NoError(t, err)
			defer s.Close()
			got, err := s.Get(ctx, BucketAssetBlobs, "h")
			require.NoError(t, err)
			require.Equal(t, []byte{0, 1, 2}, got)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("leveldb", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("err = %v, want ErrUnknownBackend", err)
	}
}
