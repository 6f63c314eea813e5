// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ckt1031/simple-chat/internal/assets"
	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/remote"
)

func (e *Engine) pull(ctx context.Context, r *Report) error {
	e.conversations.Flush()
	meta := e.store.ReadSyncMetadata(ctx)

	cfg, err := e.readConfig(ctx)
	if err != nil {
		return stepErr(StepReadRemote, err)
	}
	if cfg == nil {
		e.logger.Info().Msg("no remote config, nothing to pull")
		return nil
	}

	// Config: remote replaces settings, remote folders are added
	settings := model.Settings{Providers: cfg.Providers, Preferences: cfg.Preferences}
	if err := e.store.WriteSettings(ctx, settings); err != nil {
		return stepErr(StepApplyConfig, err)
	}
	foldersChanged := false
	localFolders := e.store.ReadFolders(ctx)
	for _, f := range cfg.Folders {
		if existing, ok := localFolders.Get(f.ID); ok && sameFolder(existing, f) {
			continue
		}
		if err := e.store.UpsertFolder(ctx, f); err != nil {
			return stepErr(StepApplyConfig, err)
		}
		foldersChanged = true
	}

	manifest := cfg.manifest()
	headers := e.conversations.Headers()
	local := make(map[string]model.ConversationHeader, len(headers))
	for _, h := range headers {
		local[h.ID] = h
	}

	// Conversations deleted remotely since the last sync
	for _, h := range headers {
		if _, ok := manifest[h.ID]; ok || !meta.WasSynced(h.ID) {
			continue
		}
		if e.conversations.IsLoading(h.ID) {
			e.logger.Warn().Str("conversation_id", h.ID).Msg("deleted remotely while generating, keeping")
			r.Skipped++
			continue
		}
		if err := e.conversations.DeleteConversation(ctx, h.ID); err != nil {
			return stepErr(StepDeleteLocal, err)
		}
		r.LocalDeleted++
	}

	// Conversations newer remotely
	var wanted []ManifestEntry
	for _, entry := range cfg.Chats {
		h, ok := local[entry.ID]
		switch {
		case ok && !entry.LastModified.After(h.LastModified()):
			continue
		case ok && e.conversations.IsLoading(entry.ID):
			r.Skipped++
			continue
		}
		wanted = append(wanted, entry)
	}

	docs := make([]*ChatDocument, len(wanted))
	err = e.parallel(ctx, len(wanted), func(ctx context.Context, i int) error {
		doc, err := e.fetchChat(ctx, wanted[i].ID)
		docs[i] = doc
		return err
	})
	if err != nil {
		return stepErr(StepDownloadChats, err)
	}
	for i, doc := range docs {
		if doc == nil {
			continue
		}
		entry := wanted[i]
		if err := e.conversations.ImportConversation(ctx, doc.header(&entry), doc.body()); err != nil {
			return stepErr(StepImportChats, err)
		}
		r.Downloaded++
	}

	// Assets missing locally
	remoteAssetObjects, err := e.transport.List(ctx, remote.AssetPrefix)
	if err != nil {
		return stepErr(StepDownloadAssets, err)
	}
	localAssets, err := e.assets.IDs(ctx)
	if err != nil {
		return stepErr(StepDownloadAssets, err)
	}
	have := make(map[string]bool, len(localAssets))
	for _, id := range localAssets {
		have[id] = true
	}
	var remoteAssetIDs []string
	var missing []string
	for _, o := range remoteAssetObjects {
		id, _, ok := remote.ParseAssetObject(o.Name)
		if !ok {
			continue
		}
		remoteAssetIDs = append(remoteAssetIDs, id)
		if !have[id] {
			missing = append(missing, o.Name)
		}
	}

	records := make([]*model.AssetRecord, len(missing))
	err = e.parallel(ctx, len(missing), func(ctx context.Context, i int) error {
		rec, err := e.fetchAsset(ctx, missing[i])
		records[i] = rec
		return err
	})
	if err != nil {
		return stepErr(StepDownloadAssets, err)
	}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := e.assets.Restore(ctx, rec); err != nil {
			return stepErr(StepDownloadAssets, err)
		}
		r.AssetsDownloaded++
	}

	if foldersChanged {
		if err := e.conversations.Reload(ctx); err != nil {
			return stepErr(StepApplyConfig, err)
		}
	}

	meta.SyncedIDs = entryIDs(cfg.Chats)
	sort.Strings(remoteAssetIDs)
	meta.SyncedAssetIDs = remoteAssetIDs
	meta.RemoteVersion = cfg.Timestamp.UnixMilli()
	meta.LastModified = latest(e.conversations.Headers())
	return e.saveMetadata(ctx, meta)
}

// fetchChat downloads a conversation object. A manifest entry whose object
// is missing or corrupt is skipped with nil, nil.
func (e *Engine) fetchChat(ctx context.Context, id string) (*ChatDocument, error) {
	data, err := e.transport.Get(ctx, remote.ChatObject(id))
	if errors.Is(err, remote.ErrObjectNotFound) {
		e.logger.Warn().Str("conversation_id", id).Msg("manifest entry has no remote object, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc ChatDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		e.logger.Warn().Err(err).Str("conversation_id", id).Msg("corrupt remote conversation, skipping")
		return nil, nil
	}
	if doc.ID != id {
		e.logger.Warn().Str("conversation_id", id).Str("object_id", doc.ID).Msg("remote conversation id mismatch, using object name")
		doc.ID = id
	}
	return &doc, nil
}

// fetchAsset downloads an asset object. Content that does not hash to its
// name is skipped with nil, nil.
func (e *Engine) fetchAsset(ctx context.Context, name string) (*model.AssetRecord, error) {
	id, ext, _ := remote.ParseAssetObject(name)
	data, err := e.transport.Get(ctx, name)
	if errors.Is(err, remote.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", id, err)
	}
	if assets.HashBytes(data) != id {
		e.logger.Warn().Str("asset_id", id).Msg("remote asset content does not match its id, skipping")
		return nil, nil
	}
	mime := assets.MIMEForExtension(ext)
	return &model.AssetRecord{
		ID:       id,
		Type:     model.AssetTypeForMIME(mime),
		MIMEType: mime,
		Size:     int64(len(data)),
		Blob:     data,
	}, nil
}

func sameFolder(a, b model.ConversationFolder) bool {
	return a.ID == b.ID && a.Name == b.Name && a.CreatedAt.Equal(b.CreatedAt)
}
