// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"strings"

	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/util"
)

// =============================================================================
// MESSAGE MUTATIONS
// =============================================================================

// AddMessage appends a copy of partial to the open conversation with a fresh
// id and returns that id. With no open conversation one is created first.
// The first user message derives the conversation title in memory.
func (m *Manager) AddMessage(partial model.Message) string {
	m.mu.Lock()
	if m.currentID == "" {
		m.mu.Unlock()
		m.CreateNewConversation("", nil)
		m.mu.Lock()
	}
	convID := m.currentID
	m.mu.Unlock()

	id, _ := m.AddMessageTo(convID, partial)
	return id
}

// AddMessageTo appends a copy of partial to conversationID, which must be in
// memory (open or generating in the background). ok is false otherwise.
func (m *Manager) AddMessageTo(conversationID string, partial model.Message) (id string, ok bool) {
	m.mu.Lock()
	var list *[]*model.Message
	switch {
	case conversationID != "" && conversationID == m.currentID:
		list = &m.current
	case m.background[conversationID] != nil:
		list = &m.background[conversationID].messages
	default:
		m.mu.Unlock()
		return "", false
	}

	msg := partial.Clone()
	msg.ID = model.NewMessageID()
	if !msg.Role.Valid() {
		msg.Role = model.RoleUser
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}

	titleChanged := false
	if msg.Role == model.RoleUser && !hasUserMessage(*list) {
		if h, found := m.headers.Get(conversationID); found {
			h.Title = DeriveTitle(msg.Content, len(msg.Assets) > 0)
			m.headers.Upsert(h)
			titleChanged = true
		}
	}

	*list = append(*list, msg)
	m.mu.Unlock()

	if titleChanged {
		m.emit(Change{Kind: ChangeConversations, ConversationID: conversationID})
	}
	m.emit(Change{Kind: ChangeMessages, ConversationID: conversationID, MessageID: msg.ID})
	return msg.ID, true
}

// DeriveTitle returns the title for a conversation whose first user message
// has the given content. Content longer than TitleMaxRunes is cut there and
// gets an ellipsis.
func DeriveTitle(content string, hasAssets bool) string {
	if strings.TrimSpace(content) == "" {
		if hasAssets {
			return model.ImageMessageTitle
		}
		return model.DefaultTitle
	}
	return util.TruncateRunes(content, model.TitleMaxRunes)
}

func hasUserMessage(msgs []*model.Message) bool {
	for _, msg := range msgs {
		if msg.Role == model.RoleUser {
			return true
		}
	}
	return false
}

// UpdateMessage applies patch to the message with id. Returns false if no
// such message is in memory.
func (m *Manager) UpdateMessage(id string, patch model.MessagePatch) bool {
	return m.mutate(id, func(msg *model.Message) { patch.Apply(msg) })
}

// AppendToMessage appends delta to the message's content.
func (m *Manager) AppendToMessage(id, delta string) bool {
	return m.mutate(id, func(msg *model.Message) { msg.Content += delta })
}

// AppendToReasoning appends delta to the message's reasoning. The first call
// for a message stamps ReasoningStartTime.
func (m *Manager) AppendToReasoning(id, delta string) bool {
	return m.mutate(id, func(msg *model.Message) {
		if msg.ReasoningStartTime == nil {
			t := m.now()
			msg.ReasoningStartTime = &t
		}
		msg.Reasoning += delta
	})
}

// EndReasoning stamps ReasoningEndTime once. Later calls, and calls before
// reasoning started, change nothing.
func (m *Manager) EndReasoning(id string) bool {
	return m.mutate(id, func(msg *model.Message) {
		if msg.ReasoningStartTime == nil || msg.ReasoningEndTime != nil {
			return
		}
		t := m.now()
		if t.Before(*msg.ReasoningStartTime) {
			t = *msg.ReasoningStartTime
		}
		msg.ReasoningEndTime = &t
	})
}

// IsLastMessage reports whether id is the final message of the open
// conversation.
func (m *Manager) IsLastMessage(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.current)
	return n > 0 && m.current[n-1].ID == id
}

// DeleteMessage removes the message with id.
func (m *Manager) DeleteMessage(id string) bool {
	m.mu.Lock()
	msg, list := m.findLocked(id)
	if msg == nil {
		m.mu.Unlock()
		return false
	}
	out := (*list)[:0]
	for _, v := range *list {
		if v.ID != id {
			out = append(out, v)
		}
	}
	*list = out
	convID := m.ownerLocked(list)
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeMessages, ConversationID: convID, MessageID: id})
	return true
}

// RemoveLastAssistantMessage removes the last message of its conversation
// only if it has id and the assistant role. Returns whether it removed.
func (m *Manager) RemoveLastAssistantMessage(id string) bool {
	m.mu.Lock()
	msg, list := m.findLocked(id)
	if msg == nil {
		m.mu.Unlock()
		return false
	}
	n := len(*list)
	last := (*list)[n-1]
	if last.ID != id || last.Role != model.RoleAssistant {
		m.mu.Unlock()
		return false
	}
	(*list)[n-1] = nil
	*list = (*list)[:n-1]
	convID := m.ownerLocked(list)
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeMessages, ConversationID: convID, MessageID: id})
	return true
}

// RemoveAssetReferences drops every reference to assetID from in-memory
// messages and returns how many were removed. The caller persists.
func (m *Manager) RemoveAssetReferences(assetID string) int {
	m.mu.Lock()
	removed := stripAsset(m.current, assetID)
	for _, b := range m.background {
		removed += stripAsset(b.messages, assetID)
	}
	convID := m.currentID
	m.mu.Unlock()

	if removed > 0 {
		m.emit(Change{Kind: ChangeMessages, ConversationID: convID})
	}
	return removed
}

func stripAsset(msgs []*model.Message, assetID string) int {
	removed := 0
	for _, msg := range msgs {
		if len(msg.Assets) == 0 {
			continue
		}
		kept := msg.Assets[:0]
		for _, ref := range msg.Assets {
			if ref.ID == assetID {
				removed++
				continue
			}
			kept = append(kept, ref)
		}
		if len(kept) == 0 {
			kept = nil
		}
		msg.Assets = kept
	}
	return removed
}

// mutate runs fn on the message with id under the lock and notifies.
func (m *Manager) mutate(id string, fn func(*model.Message)) bool {
	m.mu.Lock()
	msg, list := m.findLocked(id)
	if msg == nil {
		m.mu.Unlock()
		return false
	}
	fn(msg)
	convID := m.ownerLocked(list)
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeMessages, ConversationID: convID, MessageID: id})
	return true
}
