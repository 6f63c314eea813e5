// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/storage"
)

// ErrUnknownConversation is returned for ids missing from the index.
var ErrUnknownConversation = errors.New("unknown conversation")

// =============================================================================
// OPEN / CREATE / SWITCH
// =============================================================================

// CreateNewConversation creates a conversation titled "New chat" in folderID,
// makes it current and returns its id. The header, and a body if a model is
// given, are written in the background; use Flush to wait for them. With no
// initialModel the temporary selection is used and consumed.
func (m *Manager) CreateNewConversation(folderID string, initialModel *model.ModelRef) string {
	h := model.NewConversationHeader(folderID)
	now := m.now()
	h.CreatedAt, h.UpdatedAt = now, now

	m.mu.Lock()
	if initialModel == nil && m.tempModelSelection != nil {
		initialModel = m.tempModelSelection
	}
	m.tempModelSelection = nil
	selected := cloneRef(initialModel)

	m.detachLocked()
	m.headers.Upsert(h)
	m.currentID = h.ID
	m.current = []*model.Message{}
	m.currentSelectedModel = selected
	m.mu.Unlock()

	m.enqueue("header", func(ctx context.Context) error {
		return m.store.UpsertHeader(ctx, h)
	})
	if selected != nil {
		body := &model.ConversationBody{Messages: []*model.Message{}, SelectedModel: cloneRef(selected)}
		m.enqueue("body", func(ctx context.Context) error {
			return m.store.WriteBody(ctx, h.ID, body)
		})
	}

	m.logger.Debug().Str("conversation_id", h.ID).Msg("conversation created")
	m.emit(Change{Kind: ChangeConversations, ConversationID: h.ID})
	m.emit(Change{Kind: ChangeCurrent, ConversationID: h.ID})
	return h.ID
}

// OpenConversation makes id current and loads its body. Opening the current
// conversation while it has messages is a no-op, so an in-flight stream is
// never reset. A missing or corrupt body opens as empty.
func (m *Manager) OpenConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	if id == m.currentID && len(m.current) > 0 {
		m.mu.Unlock()
		return nil
	}
	if !m.headers.Has(id) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	if _, ok := m.background[id]; ok {
		if id != m.currentID {
			m.detachLocked()
		}
		m.attachLocked(id)
		m.mu.Unlock()
		m.emit(Change{Kind: ChangeCurrent, ConversationID: id})
		return nil
	}
	m.openSeq++
	seq := m.openSeq
	m.mu.Unlock()

	m.Flush()
	body, err := m.store.ReadBody(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		body = &model.ConversationBody{Messages: []*model.Message{}}
	}

	m.mu.Lock()
	if seq != m.openSeq || !m.headers.Has(id) {
		// A later open or a delete won
		m.mu.Unlock()
		return nil
	}
	if id != m.currentID {
		m.detachLocked()
	}
	m.currentID = id
	m.current = body.Messages
	if m.current == nil {
		m.current = []*model.Message{}
	}
	m.currentSelectedModel = body.SelectedModel
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeCurrent, ConversationID: id})
	return nil
}

// SetCurrentConversation moves the pointer to id ("" for none) without
// reading the store. The previous conversation's messages leave memory, or
// move to the background if it is generating; a background buffer for id is
// reattached. Otherwise messages are empty until OpenConversation.
func (m *Manager) SetCurrentConversation(id string) {
	m.mu.Lock()
	if id == m.currentID {
		m.mu.Unlock()
		return
	}
	m.openSeq++
	m.detachLocked()
	if id == "" {
		m.clearCurrentLocked()
	} else {
		m.attachLocked(id)
	}
	m.mu.Unlock()
	m.emit(Change{Kind: ChangeCurrent, ConversationID: id})
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// PersistCurrentConversation writes the open conversation's header and full
// body. It is the only path that commits streamed content to disk.
func (m *Manager) PersistCurrentConversation(ctx context.Context) error {
	id := m.CurrentID()
	if id == "" {
		return nil
	}
	return m.PersistConversation(ctx, id)
}

// PersistConversation writes the header and body of id, whether it is open
// or in the background. It bumps UpdatedAt and MessageCount. A background
// buffer is released once its generation has ended. A conversation that is
// not in memory, or was deleted, is skipped.
func (m *Manager) PersistConversation(ctx context.Context, id string) error {
	m.Flush()

	m.mu.Lock()
	var msgs []*model.Message
	var selected *model.ModelRef
	switch {
	case id != "" && id == m.currentID:
		msgs, selected = m.current, m.currentSelectedModel
	case m.background[id] != nil:
		b := m.background[id]
		msgs, selected = b.messages, b.selectedModel
	default:
		m.mu.Unlock()
		return nil
	}
	h, ok := m.headers.Get(id)
	if !ok {
		delete(m.background, id)
		m.mu.Unlock()
		m.logger.Debug().Str("conversation_id", id).Msg("skipping persist of deleted conversation")
		return nil
	}
	h.UpdatedAt = m.now()
	h.MessageCount = len(msgs)
	m.headers.Upsert(h)
	body := &model.ConversationBody{
		Messages:      model.CloneMessages(msgs),
		SelectedModel: cloneRef(selected),
	}
	m.mu.Unlock()

	if err := m.store.UpsertHeader(ctx, h); err != nil {
		return err
	}
	if err := m.store.WriteBody(ctx, id, body); err != nil {
		return err
	}

	m.mu.Lock()
	if !m.loading[id] {
		delete(m.background, id)
	}
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeConversations, ConversationID: id})
	return nil
}

// =============================================================================
// CONVERSATION MANAGEMENT
// =============================================================================

// RenameConversation sets a conversation's title and persists the header.
func (m *Manager) RenameConversation(ctx context.Context, id, title string) error {
	return m.updateHeader(ctx, id, func(h *model.ConversationHeader) { h.Title = title })
}

// MoveConversation puts a conversation in folderID ("" to ungroup).
func (m *Manager) MoveConversation(ctx context.Context, id, folderID string) error {
	if folderID != "" {
		m.mu.Lock()
		_, ok := m.folders.Get(folderID)
		m.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", storage.ErrFolderNotFound, folderID)
		}
	}
	return m.updateHeader(ctx, id, func(h *model.ConversationHeader) { h.FolderID = folderID })
}

func (m *Manager) updateHeader(ctx context.Context, id string, fn func(*model.ConversationHeader)) error {
	m.mu.Lock()
	h, ok := m.headers.Get(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	fn(&h)
	h.UpdatedAt = m.now()
	m.headers.Upsert(h)
	m.mu.Unlock()

	m.Flush()
	if err := m.store.UpsertHeader(ctx, h); err != nil {
		return err
	}
	m.emit(Change{Kind: ChangeConversations, ConversationID: id})
	return nil
}

// DeleteConversation removes a conversation from memory and the store. If it
// is open, no conversation is open afterwards.
func (m *Manager) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	m.headers.Remove(id)
	delete(m.background, id)
	delete(m.loading, id)
	wasCurrent := id == m.currentID
	if wasCurrent {
		m.openSeq++
		m.clearCurrentLocked()
	}
	m.mu.Unlock()

	m.Flush()
	if err := m.store.DeleteConversation(ctx, id); err != nil {
		return err
	}

	m.emit(Change{Kind: ChangeConversations, ConversationID: id})
	if wasCurrent {
		m.emit(Change{Kind: ChangeCurrent})
	}
	return nil
}

// ImportConversation stores a conversation received from elsewhere,
// replacing any local copy, and keeps h.UpdatedAt as given. An open
// conversation is refreshed unless it is generating.
func (m *Manager) ImportConversation(ctx context.Context, h model.ConversationHeader, body *model.ConversationBody) error {
	if h.ID == "" {
		return errors.New("import: conversation id is empty")
	}
	if body == nil {
		body = &model.ConversationBody{}
	}
	body = body.Clone()
	h.MessageCount = len(body.Messages)

	m.Flush()
	if err := m.store.UpsertHeader(ctx, h); err != nil {
		return err
	}
	if err := m.store.WriteBody(ctx, h.ID, body); err != nil {
		return err
	}

	m.mu.Lock()
	m.headers.Upsert(h)
	refreshed := false
	if h.ID == m.currentID {
		if m.loading[h.ID] {
			m.logger.Warn().Str("conversation_id", h.ID).Msg("imported conversation is generating, keeping in-memory copy")
		} else {
			m.current = model.CloneMessages(body.Messages)
			m.currentSelectedModel = cloneRef(body.SelectedModel)
			refreshed = true
		}
	}
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeConversations, ConversationID: h.ID})
	if refreshed {
		m.emit(Change{Kind: ChangeCurrent, ConversationID: h.ID})
	}
	return nil
}

// =============================================================================
// FOLDERS
// =============================================================================

// CreateFolder creates and persists a folder.
func (m *Manager) CreateFolder(ctx context.Context, name string) (model.ConversationFolder, error) {
	f := model.NewConversationFolder(name)
	f.CreatedAt = m.now()

	m.Flush()
	if err := m.store.UpsertFolder(ctx, f); err != nil {
		return model.ConversationFolder{}, err
	}
	m.mu.Lock()
	m.folders.Upsert(f)
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeFolders})
	return f, nil
}

// RenameFolder renames a folder.
func (m *Manager) RenameFolder(ctx context.Context, id, name string) error {
	m.mu.Lock()
	f, ok := m.folders.Get(id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrFolderNotFound, id)
	}
	f.Name = name

	m.Flush()
	if err := m.store.UpsertFolder(ctx, f); err != nil {
		return err
	}
	m.mu.Lock()
	m.folders.Upsert(f)
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeFolders})
	return nil
}

// DeleteFolder deletes a folder; its conversations become ungrouped.
func (m *Manager) DeleteFolder(ctx context.Context, id string) error {
	m.Flush()
	if err := m.store.DeleteFolder(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	m.folders.Remove(id)
	for cid, h := range m.headers.HeadersByID {
		if h.FolderID == id {
			h.FolderID = ""
			m.headers.HeadersByID[cid] = h
		}
	}
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeFolders})
	m.emit(Change{Kind: ChangeConversations})
	return nil
}
