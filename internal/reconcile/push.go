// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ckt1031/simple-chat/internal/assets"
	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/remote"
	"github.com/ckt1031/simple-chat/internal/storage"
)

const jsonContentType = "application/json"

func (e *Engine) push(ctx context.Context, r *Report) error {
	e.conversations.Flush()
	meta := e.store.ReadSyncMetadata(ctx)

	cfg, err := e.readConfig(ctx)
	if err != nil {
		return stepErr(StepReadRemote, err)
	}
	remoteChats, remoteAssets, err := e.remoteObjects(ctx)
	if err != nil {
		return stepErr(StepReadRemote, err)
	}
	manifest := map[string]ManifestEntry{}
	if cfg != nil {
		manifest = cfg.manifest()
	}

	headers := e.conversations.Headers()
	local := make(map[string]bool, len(headers))

	// Conversations: upload what is newer here or missing there
	var uploads []model.ConversationHeader
	entries := make([]ManifestEntry, 0, len(headers))
	for _, h := range headers {
		local[h.ID] = true
		re, known := manifest[h.ID]
		switch {
		case !known || !remoteChats[h.ID] || h.LastModified().After(re.LastModified):
			uploads = append(uploads, h)
			entries = append(entries, entryFor(h))
		case re.LastModified.After(h.LastModified()):
			// Newer remotely; the next pull fetches it
			r.Skipped++
			entries = append(entries, re)
		default:
			entries = append(entries, entryFor(h))
		}
	}

	err = e.parallel(ctx, len(uploads), func(ctx context.Context, i int) error {
		return e.uploadChat(ctx, uploads[i])
	})
	if err != nil {
		return stepErr(StepUploadChats, err)
	}
	r.Uploaded = len(uploads)

	// Conversations deleted here since the last sync
	var remoteDeletes []string
	for _, id := range unionKeys(manifest, remoteChats) {
		if local[id] {
			continue
		}
		if meta.WasSynced(id) {
			remoteDeletes = append(remoteDeletes, id)
			continue
		}
		// Added by another device and not pulled yet
		if re, ok := manifest[id]; ok {
			entries = append(entries, re)
		}
	}
	err = e.parallel(ctx, len(remoteDeletes), func(ctx context.Context, i int) error {
		return e.transport.Delete(ctx, remote.ChatObject(remoteDeletes[i]))
	})
	if err != nil {
		return stepErr(StepDeleteChats, err)
	}
	r.RemoteDeleted = len(remoteDeletes)

	// Assets
	localAssets, err := e.assets.IDs(ctx)
	if err != nil {
		return stepErr(StepUploadAssets, err)
	}
	localAssetSet := make(map[string]bool, len(localAssets))
	var assetUploads []string
	for _, id := range localAssets {
		localAssetSet[id] = true
		if _, ok := remoteAssets[id]; !ok {
			assetUploads = append(assetUploads, id)
		}
	}
	err = e.parallel(ctx, len(assetUploads), func(ctx context.Context, i int) error {
		return e.uploadAsset(ctx, assetUploads[i])
	})
	if err != nil {
		return stepErr(StepUploadAssets, err)
	}
	r.AssetsUploaded = len(assetUploads)

	var assetDeletes []string
	for id := range remoteAssets {
		if !localAssetSet[id] && meta.WasAssetSynced(id) {
			assetDeletes = append(assetDeletes, id)
		}
	}
	sort.Strings(assetDeletes)
	err = e.parallel(ctx, len(assetDeletes), func(ctx context.Context, i int) error {
		return e.transport.Delete(ctx, remoteAssets[assetDeletes[i]])
	})
	if err != nil {
		return stepErr(StepDeleteAssets, err)
	}
	r.AssetsRemoteDeleted = len(assetDeletes)

	// Manifest last
	settings, _ := e.store.ReadSettings(ctx)
	doc := ConfigDocument{
		Version:     ConfigVersion,
		Timestamp:   e.now(),
		Providers:   settings.Providers,
		Preferences: settings.Preferences,
		Folders:     e.store.ReadFolders(ctx).Folders(),
		Chats:       entries,
	}
	if doc.Providers == nil {
		doc.Providers = []model.Provider{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return stepErr(StepWriteConfig, err)
	}
	if err := e.transport.Put(ctx, remote.ConfigObject, data, jsonContentType); err != nil {
		return stepErr(StepWriteConfig, err)
	}

	meta.SyncedIDs = entryIDs(entries)
	meta.SyncedAssetIDs = remainingAssets(localAssets, remoteAssets, assetDeletes)
	meta.LocalVersion++
	meta.RemoteVersion = doc.Timestamp.UnixMilli()
	meta.LastModified = latest(headers)
	return e.saveMetadata(ctx, meta)
}

func (e *Engine) uploadChat(ctx context.Context, h model.ConversationHeader) error {
	body, err := e.store.ReadBody(ctx, h.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	data, err := json.Marshal(newChatDocument(h, body))
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", h.ID, err)
	}
	return e.transport.Put(ctx, remote.ChatObject(h.ID), data, jsonContentType)
}

func (e *Engine) uploadAsset(ctx context.Context, id string) error {
	rec, err := e.assets.Get(ctx, id)
	if errors.Is(err, assets.ErrNotFound) {
		// Deleted since IDs was read
		return nil
	}
	if err != nil {
		return err
	}
	mime := rec.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return e.transport.Put(ctx, remote.AssetObject(id, assets.ExtensionForMIME(rec.MIMEType)), rec.Blob, mime)
}

// =============================================================================
// HELPERS
// =============================================================================

func unionKeys(manifest map[string]ManifestEntry, objects map[string]bool) []string {
	seen := make(map[string]bool, len(manifest)+len(objects))
	for id := range manifest {
		seen[id] = true
	}
	for id := range objects {
		seen[id] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func entryIDs(entries []ManifestEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// remainingAssets is the remote asset id set after a push.
func remainingAssets(local []string, remoteAssets map[string]string, deleted []string) []string {
	gone := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		gone[id] = true
	}
	set := make(map[string]bool, len(local)+len(remoteAssets))
	for _, id := range local {
		set[id] = true
	}
	for id := range remoteAssets {
		if !gone[id] {
			set[id] = true
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func latest(headers []model.ConversationHeader) time.Time {
	var t time.Time
	for _, h := range headers {
		if lm := h.LastModified(); lm.After(t) {
			t = lm
		}
	}
	return t
}
