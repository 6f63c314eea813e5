// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"github.com/ckt1031/simple-chat/internal/kv"
	"github.com/ckt1031/simple-chat/internal/model"
)

// Keys of the single-record entries in the meta bucket.
const (
	KeyConversationIndex = "conversation_index"
	KeyFolderIndex       = "folder_index"
	KeySettings          = "settings"
	KeySyncMetadata      = "sync_metadata"
)

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore persists the conversation index, bodies, folders,
// settings and sync metadata.
type ConversationStore struct {
	db     kv.Store
	logger zerolog.Logger

	// mu serializes read-modify-write of the index records.
	mu sync.Mutex
}

// NewConversationStore returns a store over db.
func NewConversationStore(db kv.Store, logger zerolog.Logger) *ConversationStore {
	return &ConversationStore{
		db:     db,
		logger: logger.With().Str("component", "storage").Logger(),
	}
}

// =============================================================================
// INDEX OPERATIONS
// =============================================================================

// ReadIndex returns the conversation index. It never fails: an absent or
// corrupt record yields an empty index.
func (s *ConversationStore) ReadIndex(ctx context.Context) *model.ConversationIndex {
	idx := model.NewConversationIndex()
	if !s.readJSON(ctx, KeyConversationIndex, idx) {
		return model.NewConversationIndex()
	}
	idx.Normalize()
	return idx
}

// UpsertHeader prepends h.ID to the index if new and overwrites the stored
// header.
func (s *ConversationStore) UpsertHeader(ctx context.Context, h model.ConversationHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.ReadIndex(ctx)
	idx.Upsert(h)
	return s.writeJSON(ctx, KeyConversationIndex, idx)
}

// WriteIndex replaces the whole index.
func (s *ConversationStore) WriteIndex(ctx context.Context, idx *model.ConversationIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(ctx, KeyConversationIndex, idx)
}

// Search returns headers whose title contains query, case-folded. Only the
// index is read.
func (s *ConversationStore) Search(ctx context.Context, query string) []model.ConversationHeader {
	headers := s.ReadIndex(ctx).Headers()
	query = strings.TrimSpace(query)
	if query == "" {
		return headers
	}

	fold := cases.Fold()
	needle := fold.String(query)
	var out []model.ConversationHeader
	for _, h := range headers {
		if strings.Contains(fold.String(h.Title), needle) {
			out = append(out, h)
		}
	}
	return out
}

// =============================================================================
// BODY OPERATIONS
// =============================================================================

// WriteBody overwrites the body for id.
func (s *ConversationStore) WriteBody(ctx context.Context, id string, body *model.ConversationBody) error {
	if body == nil {
		body = &model.ConversationBody{}
	}
	if body.Messages == nil {
		body.Messages = []*model.Message{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", id, err)
	}
	if err := s.db.Put(ctx, kv.BucketBodies, id, data); err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", id, err)
	}
	return nil
}

// ReadBody returns the body for id. A missing or corrupt body returns
// ErrNotFound.
func (s *ConversationStore) ReadBody(ctx context.Context, id string) (*model.ConversationBody, error) {
	data, err := s.db.Get(ctx, kv.BucketBodies, id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}

	var body model.ConversationBody
	if err := json.Unmarshal(data, &body); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", id).Msg("corrupt conversation body")
		return nil, notFound(id)
	}
	if body.Messages == nil {
		body.Messages = []*model.Message{}
	}
	return &body, nil
}

// DeleteConversation removes id from the index and deletes its body. The two
// writes are not atomic; a body orphaned by a crash in between is harmless.
func (s *ConversationStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.ReadIndex(ctx)
	var err error
	if idx.Remove(id) {
		err = s.writeJSON(ctx, KeyConversationIndex, idx)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.db.Delete(ctx, kv.BucketBodies, id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

// PruneOrphanBodies deletes bodies that have no index entry and returns how
// many were removed.
func (s *ConversationStore) PruneOrphanBodies(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.ReadIndex(ctx)
	keys, err := s.db.Keys(ctx, kv.BucketBodies)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range keys {
		if idx.Has(id) {
			continue
		}
		if err := s.db.Delete(ctx, kv.BucketBodies, id); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info().Int("count", removed).Msg("pruned orphaned conversation bodies")
	}
	return removed, nil
}

// =============================================================================
// FOLDER OPERATIONS
// =============================================================================

// ReadFolders returns the folder index, empty if absent or corrupt.
func (s *ConversationStore) ReadFolders(ctx context.Context) *model.FolderIndex {
	idx := model.NewFolderIndex()
	if !s.readJSON(ctx, KeyFolderIndex, idx) {
		return model.NewFolderIndex()
	}
	idx.Normalize()
	return idx
}

// UpsertFolder creates or renames a folder.
func (s *ConversationStore) UpsertFolder(ctx context.Context, f model.ConversationFolder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.ReadFolders(ctx)
	idx.Upsert(f)
	return s.writeJSON(ctx, KeyFolderIndex, idx)
}

// WriteFolders replaces the whole folder index.
func (s *ConversationStore) WriteFolders(ctx context.Context, idx *model.FolderIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(ctx, KeyFolderIndex, idx)
}

// DeleteFolder removes a folder and ungroups the conversations in it.
func (s *ConversationStore) DeleteFolder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	folders := s.ReadFolders(ctx)
	if !folders.Remove(id) {
		return &ConversationError{Message: ErrFolderNotFound.Message, ID: id}
	}
	if err := s.writeJSON(ctx, KeyFolderIndex, folders); err != nil {
		return err
	}

	idx := s.ReadIndex(ctx)
	changed := false
	for cid, h := range idx.HeadersByID {
		if h.FolderID == id {
			h.FolderID = ""
			idx.HeadersByID[cid] = h
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.writeJSON(ctx, KeyConversationIndex, idx)
}

// =============================================================================
// SETTINGS AND SYNC METADATA
// =============================================================================

// ReadSettings returns the stored settings. ok is false if none were stored
// or the record was corrupt.
func (s *ConversationStore) ReadSettings(ctx context.Context) (settings model.Settings, ok bool) {
	if !s.readJSON(ctx, KeySettings, &settings) {
		return model.Settings{}, false
	}
	return settings, true
}

// WriteSettings overwrites the settings record.
func (s *ConversationStore) WriteSettings(ctx context.Context, settings model.Settings) error {
	return s.writeJSON(ctx, KeySettings, settings)
}

// ReadSyncMetadata returns the sync bookkeeping record, zero if absent.
func (s *ConversationStore) ReadSyncMetadata(ctx context.Context) model.SyncMetadata {
	var meta model.SyncMetadata
	if !s.readJSON(ctx, KeySyncMetadata, &meta) {
		return model.SyncMetadata{}
	}
	return meta
}

// WriteSyncMetadata overwrites the sync bookkeeping record.
func (s *ConversationStore) WriteSyncMetadata(ctx context.Context, meta model.SyncMetadata) error {
	return s.writeJSON(ctx, KeySyncMetadata, meta)
}

// Clear removes every conversation, body and folder. Settings and sync
// metadata are kept.
func (s *ConversationStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Clear(ctx, kv.BucketBodies); err != nil {
		return err
	}
	if err := s.writeJSON(ctx, KeyConversationIndex, model.NewConversationIndex()); err != nil {
		return err
	}
	return s.writeJSON(ctx, KeyFolderIndex, model.NewFolderIndex())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// readJSON decodes the meta record key into v. It reports false for absent
// or undecodable records and logs the latter.
func (s *ConversationStore) readJSON(ctx context.Context, key string, v any) bool {
	data, err := s.db.Get(ctx, kv.BucketMeta, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to read record")
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("corrupt record, using empty value")
		return false
	}
	return true
}

func (s *ConversationStore) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.db.Put(ctx, kv.BucketMeta, key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
