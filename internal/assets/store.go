// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ckt1031/simple-chat/internal/kv"
	"github.com/ckt1031/simple-chat/internal/model"
)

// ErrNotFound is returned for an unknown asset id.
var ErrNotFound = errors.New("asset not found")

// Store is the content-addressed blob store.
type Store struct {
	db     kv.Store
	logger zerolog.Logger
	now    func() time.Time

	// mu serializes Put so two identical uploads cannot both miss the
	// dedup check.
	mu sync.Mutex

	urlDir string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the CreatedAt clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithURLDir sets the directory GetObjectURL materializes files in.
// Defaults to os.TempDir().
func WithURLDir(dir string) Option {
	return func(s *Store) { s.urlDir = dir }
}

// NewStore returns a blob store over db.
func NewStore(db kv.Store, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "assets").Logger(),
		now:    model.Now,
		urlDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashBytes returns the content id for data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its record. If a record with the same content
// hash exists it is returned unchanged and nothing is written.
func (s *Store) Put(ctx context.Context, data []byte, mimeType, name string) (*model.AssetRecord, error) {
	id := HashBytes(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(ctx, id, true)
	if err == nil {
		s.logger.Debug().Str("asset_id", id).Msg("asset already stored")
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	rec := &model.AssetRecord{
		ID:        id,
		Type:      model.AssetTypeForMIME(mimeType),
		MIMEType:  mimeType,
		Name:      name,
		Size:      int64(len(data)),
		CreatedAt: s.now(),
		Blob:      data,
	}
	if err := s.write(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Restore stores a record fetched from elsewhere, keeping its metadata. The
// blob must hash to rec.ID.
func (s *Store) Restore(ctx context.Context, rec *model.AssetRecord) error {
	if got := HashBytes(rec.Blob); got != rec.ID {
		return fmt.Errorf("asset %s: content hash mismatch (got %s)", rec.ID, got)
	}
	if rec.Size == 0 {
		rec.Size = int64(len(rec.Blob))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.Type == "" {
		rec.Type = model.AssetTypeForMIME(rec.MIMEType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, rec)
}

func (s *Store) write(ctx context.Context, rec *model.AssetRecord) error {
	meta := *rec
	meta.Blob = nil
	data, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to encode asset %s: %w", rec.ID, err)
	}
	// Blob first: a record without bytes would look present but be unreadable
	if err := s.db.Put(ctx, kv.BucketAssetBlobs, rec.ID, rec.Blob); err != nil {
		return fmt.Errorf("failed to store asset %s: %w", rec.ID, err)
	}
	if err := s.db.Put(ctx, kv.BucketAssets, rec.ID, data); err != nil {
		return fmt.Errorf("failed to store asset %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record with its blob, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.AssetRecord, error) {
	return s.get(ctx, id, true)
}

// Stat returns the record without its blob, or ErrNotFound.
func (s *Store) Stat(ctx context.Context, id string) (*model.AssetRecord, error) {
	return s.get(ctx, id, false)
}

// Has reports whether id is stored.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	_, err := s.get(ctx, id, false)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) get(ctx context.Context, id string, withBlob bool) (*model.AssetRecord, error) {
	data, err := s.db.Get(ctx, kv.BucketAssets, id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec model.AssetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn().Err(err).Str("asset_id", id).Msg("corrupt asset record")
		return nil, ErrNotFound
	}
	if !withBlob {
		return &rec, nil
	}

	blob, err := s.db.Get(ctx, kv.BucketAssetBlobs, id)
	if errors.Is(err, kv.ErrNotFound) {
		s.logger.Warn().Str("asset_id", id).Msg("asset record has no blob")
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Blob = blob
	return &rec, nil
}

// Delete removes an asset. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Delete(ctx, kv.BucketAssets, id); err != nil {
		return err
	}
	return s.db.Delete(ctx, kv.BucketAssetBlobs, id)
}

// List returns asset records without blobs, newest first. A non-empty
// filter keeps only assets of those types.
func (s *Store) List(ctx context.Context, filter ...model.AssetType) ([]*model.AssetRecord, error) {
	want := make(map[model.AssetType]bool, len(filter))
	for _, t := range filter {
		want[t] = true
	}

	var out []*model.AssetRecord
	err := s.db.ForEach(ctx, kv.BucketAssets, func(key string, value []byte) error {
		var rec model.AssetRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			s.logger.Warn().Err(err).Str("asset_id", key).Msg("skipping corrupt asset record")
			return nil
		}
		if len(want) > 0 && !want[rec.Type] {
			return nil
		}
		out = append(out, &rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// IDs returns every stored asset id.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	return s.db.Keys(ctx, kv.BucketAssets)
}

// Clear removes every asset.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Clear(ctx, kv.BucketAssets); err != nil {
		return err
	}
	return s.db.Clear(ctx, kv.BucketAssetBlobs)
}

// =============================================================================
// OBJECT URLS
// =============================================================================

// ObjectURL is a transient URL for an asset's bytes. The caller must call
// Revoke when done with it.
type ObjectURL struct {
	URL  string
	path string
	once sync.Once
}

// Revoke removes the file backing the URL. Safe to call more than once.
func (u *ObjectURL) Revoke() error {
	var err error
	u.once.Do(func() {
		if rmErr := os.Remove(u.path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = rmErr
		}
	})
	return err
}

// GetObjectURL materializes the asset as a temporary file and returns a
// file:// URL for it, or ErrNotFound.
func (s *Store) GetObjectURL(ctx context.Context, id string) (*ObjectURL, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.urlDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create object url dir: %w", err)
	}
	f, err := os.CreateTemp(s.urlDir, "asset-*."+ExtensionForMIME(rec.MIMEType))
	if err != nil {
		return nil, fmt.Errorf("failed to create object url file: %w", err)
	}
	if _, err := f.Write(rec.Blob); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write object url file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}

	abs, err := filepath.Abs(f.Name())
	if err != nil {
		abs = f.Name()
	}
	return &ObjectURL{URL: "file://" + filepath.ToSlash(abs), path: f.Name()}, nil
}
