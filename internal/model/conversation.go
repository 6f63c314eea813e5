// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the title of a conversation without a user message.
const DefaultTitle = "New chat"

// ImageMessageTitle is used when the first user message only has attachments.
const ImageMessageTitle = "(Image message)"

// TitleMaxRunes is where derived titles are cut.
const TitleMaxRunes = 50

// =============================================================================
// CONVERSATION HEADER
// =============================================================================

// ConversationHeader is the lightweight metadata stored in the index.
// Listing conversations never needs anything beyond headers.
type ConversationHeader struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	FolderID  string    `json:"folderId,omitempty"`

	// UpdatedAt is bumped on every body persist and is the sync lastModified.
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
	MessageCount int       `json:"messageCount,omitempty"`
}

// NewConversationHeader creates a header with a fresh ID and the default title.
func NewConversationHeader(folderID string) ConversationHeader {
	now := Now()
	return ConversationHeader{
		ID:        NewConversationID(),
		Title:     DefaultTitle,
		CreatedAt: now,
		FolderID:  folderID,
		UpdatedAt: now,
	}
}

// LastModified returns the timestamp used for sync comparison.
func (h ConversationHeader) LastModified() time.Time {
	if h.UpdatedAt.IsZero() {
		return h.CreatedAt
	}
	return h.UpdatedAt
}

// =============================================================================
// CONVERSATION BODY
// =============================================================================

// ModelRef selects a model on a specific provider.
type ModelRef struct {
	ProviderID string `json:"providerId" toml:"provider_id" validate:"required"`
	Model      string `json:"model" toml:"model" validate:"required"`
}

// String returns "provider/model".
func (r ModelRef) String() string {
	return r.ProviderID + "/" + r.Model
}

// ParseModelRef parses "provider/model". The model part may itself contain
// slashes, as OpenRouter model names do.
func ParseModelRef(s string) (ModelRef, error) {
	provider, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || provider == "" || name == "" {
		return ModelRef{}, fmt.Errorf("invalid model %q, want provider/model", s)
	}
	return ModelRef{ProviderID: provider, Model: name}, nil
}

// ConversationBody is the heavyweight part of a conversation. It is always
// written wholesale.
type ConversationBody struct {
	Messages      []*Message `json:"messages"`
	SelectedModel *ModelRef  `json:"selectedModel,omitempty"`
}

// Clone returns a deep copy of the body.
func (b *ConversationBody) Clone() *ConversationBody {
	if b == nil {
		return nil
	}
	c := &ConversationBody{Messages: CloneMessages(b.Messages)}
	if c.Messages == nil {
		c.Messages = []*Message{}
	}
	if b.SelectedModel != nil {
		ref := *b.SelectedModel
		c.SelectedModel = &ref
	}
	return c
}

// =============================================================================
// FOLDERS
// =============================================================================

// ConversationFolder groups conversations. Folders do not nest.
type ConversationFolder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewConversationFolder creates a folder with a fresh ID.
func NewConversationFolder(name string) ConversationFolder {
	return ConversationFolder{
		ID:        "folder_" + uuid.NewString(),
		Name:      name,
		CreatedAt: Now(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// NewConversationID creates a unique conversation ID.
func NewConversationID() string {
	return uuid.NewString()
}
