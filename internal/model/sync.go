// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// SyncMetadata is process-wide reconciliation bookkeeping. It is persisted
// locally and never synced.
type SyncMetadata struct {
	LastSyncTime  time.Time `json:"lastSyncTime"`
	RemoteFileID  string    `json:"remoteFileId,omitempty"`
	LocalVersion  int64     `json:"localVersion"`
	RemoteVersion int64     `json:"remoteVersion"`
	LastModified  time.Time `json:"lastModified"`

	// SyncedIDs is the conversation id set of the last manifest this device
	// wrote or read. Pull-side deletion only touches ids in this set.
	SyncedIDs []string `json:"syncedIds,omitempty"`

	// SyncedAssetIDs is the remote asset id set after the last sync. Push
	// only deletes remote assets in this set.
	SyncedAssetIDs []string `json:"syncedAssetIds,omitempty"`
}

// WasSynced reports whether id appeared in the last known manifest.
func (m *SyncMetadata) WasSynced(id string) bool {
	return contains(m.SyncedIDs, id)
}

// WasAssetSynced reports whether asset id was on the remote after the last
// sync.
func (m *SyncMetadata) WasAssetSynced(id string) bool {
	return contains(m.SyncedAssetIDs, id)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
