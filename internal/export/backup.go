// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/storage"
)

// DocumentVersion is the version written into new backups.
const DocumentVersion = 1

// ErrBusy is returned by Import while a conversation is generating.
var ErrBusy = errors.New("cannot import while a response is generating")

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is the whole-store backup. It mirrors the durable store's shape.
type Document struct {
	Version       int                  `json:"version"`
	Timestamp     time.Time            `json:"timestamp"`
	Conversations ConversationsSection `json:"conversations"`
	Providers     []model.Provider     `json:"providers"`
	Preferences   model.Preferences    `json:"preferences"`
	Assets        []*model.AssetRecord `json:"assets"`
}

// ConversationsSection holds both indexes and every body by id.
type ConversationsSection struct {
	Headers *model.ConversationIndex           `json:"headers"`
	Folders *model.FolderIndex                 `json:"folders"`
	Bodies  map[string]*model.ConversationBody `json:"bodies"`
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Store is the durable store being backed up.
type Store interface {
	ReadIndex(ctx context.Context) *model.ConversationIndex
	WriteIndex(ctx context.Context, idx *model.ConversationIndex) error
	ReadBody(ctx context.Context, id string) (*model.ConversationBody, error)
	WriteBody(ctx context.Context, id string, body *model.ConversationBody) error
	ReadFolders(ctx context.Context) *model.FolderIndex
	WriteFolders(ctx context.Context, idx *model.FolderIndex) error
	ReadSettings(ctx context.Context) (model.Settings, bool)
	WriteSettings(ctx context.Context, settings model.Settings) error
	Clear(ctx context.Context) error
}

// Assets is the blob store being backed up.
type Assets interface {
	IDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, id string) (*model.AssetRecord, error)
	Restore(ctx context.Context, rec *model.AssetRecord) error
	Clear(ctx context.Context) error
}

// Conversations is the in-memory state that must be flushed before a backup
// and reloaded after an import.
type Conversations interface {
	Flush()
	LoadingIDs() []string
	Reload(ctx context.Context) error
}

// Backup builds and restores Documents.
type Backup struct {
	store  Store
	assets Assets
	convs  Conversations
	logger zerolog.Logger
	now    func() time.Time
}

// NewBackup creates a Backup.
func NewBackup(store Store, assets Assets, convs Conversations, logger zerolog.Logger) *Backup {
	return &Backup{
		store:  store,
		assets: assets,
		convs:  convs,
		logger: logger.With().Str("component", "backup").Logger(),
		now:    model.Now,
	}
}

// =============================================================================
// EXPORT
// =============================================================================

// Build snapshots the store into a Document. Missing bodies export as empty
// conversations.
func (b *Backup) Build(ctx context.Context) (*Document, error) {
	b.convs.Flush()

	settings, _ := b.store.ReadSettings(ctx)
	doc := &Document{
		Version:   DocumentVersion,
		Timestamp: b.now(),
		Conversations: ConversationsSection{
			Headers: b.store.ReadIndex(ctx),
			Folders: b.store.ReadFolders(ctx),
			Bodies:  make(map[string]*model.ConversationBody),
		},
		Providers:   settings.Providers,
		Preferences: settings.Preferences,
		Assets:      []*model.AssetRecord{},
	}
	if doc.Providers == nil {
		doc.Providers = []model.Provider{}
	}

	for _, id := range doc.Conversations.Headers.IDs {
		body, err := b.store.ReadBody(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			body = &model.ConversationBody{Messages: []*model.Message{}}
		} else if err != nil {
			return nil, fmt.Errorf("read conversation %s: %w", id, err)
		}
		doc.Conversations.Bodies[id] = body
	}

	ids, err := b.assets.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	for _, id := range ids {
		rec, err := b.assets.Get(ctx, id)
		if err != nil {
			b.logger.Warn().Err(err).Str("asset_id", id).Msg("skipping unreadable asset")
			continue
		}
		doc.Assets = append(doc.Assets, rec)
	}
	return doc, nil
}

// Export writes the backup as indented JSON.
func (b *Backup) Export(ctx context.Context, w io.Writer) (*Document, error) {
	doc, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}
	b.logger.Info().
		Int("conversations", doc.Conversations.Headers.Len()).
		Int("assets", len(doc.Assets)).
		Msg("exported backup")
	return doc, nil
}

// =============================================================================
// IMPORT
// =============================================================================

// Decode reads a Document and normalizes its indexes.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid backup: %w", err)
	}
	if doc.Version > DocumentVersion {
		return nil, fmt.Errorf("backup version %d is newer than supported version %d", doc.Version, DocumentVersion)
	}
	if doc.Conversations.Headers == nil {
		doc.Conversations.Headers = model.NewConversationIndex()
	}
	if doc.Conversations.Folders == nil {
		doc.Conversations.Folders = model.NewFolderIndex()
	}
	doc.Conversations.Headers.Normalize()
	doc.Conversations.Folders.Normalize()
	return &doc, nil
}

// Import replaces local state with doc: conversations, folders and assets
// are cleared first, then written from the document. Settings are replaced.
// The conversation manager is reloaded afterwards.
func (b *Backup) Import(ctx context.Context, doc *Document) error {
	if len(b.convs.LoadingIDs()) > 0 {
		return ErrBusy
	}
	b.convs.Flush()

	if err := b.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	if err := b.assets.Clear(ctx); err != nil {
		return fmt.Errorf("clear assets: %w", err)
	}

	restored := 0
	for _, rec := range doc.Assets {
		if rec == nil {
			continue
		}
		if err := b.assets.Restore(ctx, rec); err != nil {
			b.logger.Warn().Err(err).Str("asset_id", rec.ID).Msg("skipping invalid asset")
			continue
		}
		restored++
	}

	for id, body := range doc.Conversations.Bodies {
		if !doc.Conversations.Headers.Has(id) || body == nil {
			continue
		}
		if err := b.store.WriteBody(ctx, id, body); err != nil {
			return fmt.Errorf("write conversation %s: %w", id, err)
		}
	}
	if err := b.store.WriteFolders(ctx, doc.Conversations.Folders); err != nil {
		return fmt.Errorf("write folders: %w", err)
	}
	if err := b.store.WriteIndex(ctx, doc.Conversations.Headers); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	providers := doc.Providers
	if providers == nil {
		providers = []model.Provider{}
	}
	if err := b.store.WriteSettings(ctx, model.Settings{Providers: providers, Preferences: doc.Preferences}); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	b.logger.Info().
		Int("conversations", doc.Conversations.Headers.Len()).
		Int("assets", restored).
		Msg("imported backup")
	return b.convs.Reload(ctx)
}
