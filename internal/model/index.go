// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// CONVERSATION INDEX
// =============================================================================

// ConversationIndex lists conversation headers in display order.
// IDs has no duplicates and every id has an entry in HeadersByID.
// Order is whatever callers make it (newest-first by convention).
type ConversationIndex struct {
	IDs         []string                      `json:"ids"`
	HeadersByID map[string]ConversationHeader `json:"headersById"`
}

// NewConversationIndex returns an empty index.
func NewConversationIndex() *ConversationIndex {
	return &ConversationIndex{
		IDs:         []string{},
		HeadersByID: make(map[string]ConversationHeader),
	}
}

// Upsert prepends the header's id if it is new and always overwrites the
// stored header. Returns true if the id was new.
func (idx *ConversationIndex) Upsert(h ConversationHeader) bool {
	if idx.HeadersByID == nil {
		idx.HeadersByID = make(map[string]ConversationHeader)
	}
	_, exists := idx.HeadersByID[h.ID]
	if !exists {
		idx.IDs = append([]string{h.ID}, idx.IDs...)
	}
	idx.HeadersByID[h.ID] = h
	return !exists
}

// Remove drops an id. Returns false if it was not present.
func (idx *ConversationIndex) Remove(id string) bool {
	if _, ok := idx.HeadersByID[id]; !ok {
		return false
	}
	delete(idx.HeadersByID, id)
	idx.IDs = removeID(idx.IDs, id)
	return true
}

// Get returns the header for id.
func (idx *ConversationIndex) Get(id string) (ConversationHeader, bool) {
	h, ok := idx.HeadersByID[id]
	return h, ok
}

// Has reports whether id is indexed.
func (idx *ConversationIndex) Has(id string) bool {
	_, ok := idx.HeadersByID[id]
	return ok
}

// Len returns the number of conversations.
func (idx *ConversationIndex) Len() int {
	return len(idx.IDs)
}

// Headers returns the headers in display order.
func (idx *ConversationIndex) Headers() []ConversationHeader {
	out := make([]ConversationHeader, 0, len(idx.IDs))
	for _, id := range idx.IDs {
		if h, ok := idx.HeadersByID[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Clone returns a copy that shares no maps or slices with idx.
func (idx *ConversationIndex) Clone() *ConversationIndex {
	c := &ConversationIndex{
		IDs:         append([]string{}, idx.IDs...),
		HeadersByID: make(map[string]ConversationHeader, len(idx.HeadersByID)),
	}
	for k, v := range idx.HeadersByID {
		c.HeadersByID[k] = v
	}
	return c
}

// Normalize repairs a decoded index: duplicate ids and ids without a header
// are dropped, headers missing from IDs are appended.
func (idx *ConversationIndex) Normalize() {
	if idx.HeadersByID == nil {
		idx.HeadersByID = make(map[string]ConversationHeader)
	}
	idx.IDs = normalizeIDs(idx.IDs, func(id string) bool {
		_, ok := idx.HeadersByID[id]
		return ok
	})
	seen := make(map[string]bool, len(idx.IDs))
	for _, id := range idx.IDs {
		seen[id] = true
	}
	for id, h := range idx.HeadersByID {
		if h.ID != id {
			h.ID = id
			idx.HeadersByID[id] = h
		}
		if !seen[id] {
			idx.IDs = append(idx.IDs, id)
		}
	}
}

// =============================================================================
// FOLDER INDEX
// =============================================================================

// FolderIndex lists folders in display order.
type FolderIndex struct {
	IDs  []string                      `json:"ids"`
	ByID map[string]ConversationFolder `json:"byId"`
}

// NewFolderIndex returns an empty folder index.
func NewFolderIndex() *FolderIndex {
	return &FolderIndex{
		IDs:  []string{},
		ByID: make(map[string]ConversationFolder),
	}
}

// Upsert prepends new folders and overwrites existing ones.
func (idx *FolderIndex) Upsert(f ConversationFolder) bool {
	if idx.ByID == nil {
		idx.ByID = make(map[string]ConversationFolder)
	}
	_, exists := idx.ByID[f.ID]
	if !exists {
		idx.IDs = append([]string{f.ID}, idx.IDs...)
	}
	idx.ByID[f.ID] = f
	return !exists
}

// Remove drops a folder.
func (idx *FolderIndex) Remove(id string) bool {
	if _, ok := idx.ByID[id]; !ok {
		return false
	}
	delete(idx.ByID, id)
	idx.IDs = removeID(idx.IDs, id)
	return true
}

// Get returns the folder for id.
func (idx *FolderIndex) Get(id string) (ConversationFolder, bool) {
	f, ok := idx.ByID[id]
	return f, ok
}

// Folders returns the folders in display order.
func (idx *FolderIndex) Folders() []ConversationFolder {
	out := make([]ConversationFolder, 0, len(idx.IDs))
	for _, id := range idx.IDs {
		if f, ok := idx.ByID[id]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Clone returns a deep copy.
func (idx *FolderIndex) Clone() *FolderIndex {
	c := &FolderIndex{
		IDs:  append([]string{}, idx.IDs...),
		ByID: make(map[string]ConversationFolder, len(idx.ByID)),
	}
	for k, v := range idx.ByID {
		c.ByID[k] = v
	}
	return c
}

// Normalize repairs a decoded folder index.
func (idx *FolderIndex) Normalize() {
	if idx.ByID == nil {
		idx.ByID = make(map[string]ConversationFolder)
	}
	idx.IDs = normalizeIDs(idx.IDs, func(id string) bool {
		_, ok := idx.ByID[id]
		return ok
	})
	seen := make(map[string]bool, len(idx.IDs))
	for _, id := range idx.IDs {
		seen[id] = true
	}
	for id := range idx.ByID {
		if !seen[id] {
			idx.IDs = append(idx.IDs, id)
		}
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func normalizeIDs(ids []string, known func(string) bool) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] || !known(id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
