// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"time"

	"github.com/ckt1031/simple-chat/internal/model"
)

// ConfigVersion is the config object format written by this package.
const ConfigVersion = 1

// ConfigDocument is the remote config object.
type ConfigDocument struct {
	Version     int                        `json:"version"`
	Timestamp   time.Time                  `json:"timestamp"`
	Providers   []model.Provider           `json:"providers"`
	Preferences model.Preferences          `json:"preferences"`
	Folders     []model.ConversationFolder `json:"folders,omitempty"`
	Chats       []ManifestEntry            `json:"chats"`
}

// ManifestEntry describes one remote conversation.
type ManifestEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastModified time.Time `json:"lastModified"`
	FolderID     string    `json:"folderId,omitempty"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

// entryFor builds the manifest entry of a local header.
func entryFor(h model.ConversationHeader) ManifestEntry {
	return ManifestEntry{
		ID:           h.ID,
		Title:        h.Title,
		LastModified: h.LastModified(),
		FolderID:     h.FolderID,
		MessageCount: h.MessageCount,
		CreatedAt:    h.CreatedAt,
	}
}

// manifest indexes the config's entries by id.
func (d *ConfigDocument) manifest() map[string]ManifestEntry {
	out := make(map[string]ManifestEntry, len(d.Chats))
	for _, e := range d.Chats {
		out[e.ID] = e
	}
	return out
}

// ChatDocument is a remote conversation object.
type ChatDocument struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Messages      []*model.Message `json:"messages"`
	LastModified  time.Time        `json:"lastModified"`
	FolderID      string           `json:"folderId,omitempty"`
	CreatedAt     time.Time        `json:"createdAt,omitempty"`
	SelectedModel *model.ModelRef  `json:"selectedModel,omitempty"`
}

// newChatDocument builds the remote object for a conversation.
func newChatDocument(h model.ConversationHeader, body *model.ConversationBody) ChatDocument {
	doc := ChatDocument{
		ID:           h.ID,
		Title:        h.Title,
		Messages:     []*model.Message{},
		LastModified: h.LastModified(),
		FolderID:     h.FolderID,
		CreatedAt:    h.CreatedAt,
	}
	if body != nil {
		if body.Messages != nil {
			doc.Messages = body.Messages
		}
		doc.SelectedModel = body.SelectedModel
	}
	return doc
}

// header returns the local header for the document. The manifest entry, when
// given, wins for title, folder and lastModified.
func (d *ChatDocument) header(entry *ManifestEntry) model.ConversationHeader {
	h := model.ConversationHeader{
		ID:           d.ID,
		Title:        d.Title,
		CreatedAt:    d.CreatedAt,
		FolderID:     d.FolderID,
		UpdatedAt:    d.LastModified,
		MessageCount: len(d.Messages),
	}
	if entry != nil {
		h.Title = entry.Title
		h.FolderID = entry.FolderID
		if !entry.LastModified.IsZero() {
			h.UpdatedAt = entry.LastModified
		}
		if h.CreatedAt.IsZero() {
			h.CreatedAt = entry.CreatedAt
		}
	}
	if h.Title == "" {
		h.Title = model.DefaultTitle
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = h.UpdatedAt
	}
	return h
}

// body returns the local body for the document.
func (d *ChatDocument) body() *model.ConversationBody {
	msgs := d.Messages
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return &model.ConversationBody{Messages: msgs, SelectedModel: d.SelectedModel}
}
