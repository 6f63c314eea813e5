// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// MessageError is the structured error attached to a message when generation
// fails. Code is optional and carries a provider or transport status.
type MessageError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *MessageError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Reasoning channel. Start is set on the first reasoning delta,
	// end at most once and only after start.
	Reasoning          string     `json:"reasoning,omitempty"`
	ReasoningStartTime *time.Time `json:"reasoningStartTime,omitempty"`
	ReasoningEndTime   *time.Time `json:"reasoningEndTime,omitempty"`

	// Generation outcome (assistant messages)
	Model   string        `json:"model,omitempty"`
	Error   *MessageError `json:"error,omitempty"`
	Aborted bool          `json:"aborted,omitempty"`

	// Attachments
	Assets []AssetRef `json:"assets,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: Now(),
	}
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.ReasoningStartTime != nil {
		t := *m.ReasoningStartTime
		c.ReasoningStartTime = &t
	}
	if m.ReasoningEndTime != nil {
		t := *m.ReasoningEndTime
		c.ReasoningEndTime = &t
	}
	if m.Error != nil {
		e := *m.Error
		c.Error = &e
	}
	if m.Assets != nil {
		c.Assets = append([]AssetRef(nil), m.Assets...)
	}
	return &c
}

// HasAssets returns true if the message carries attachments.
func (m *Message) HasAssets() bool {
	return len(m.Assets) > 0
}

// IsEmpty returns true if the message has neither content nor reasoning.
func (m *Message) IsEmpty() bool {
	return m.Content == "" && m.Reasoning == ""
}

// IsReasoning reports whether the reasoning phase started and has not ended.
func (m *Message) IsReasoning() bool {
	return m.ReasoningStartTime != nil && m.ReasoningEndTime == nil
}

// ReasoningDuration returns how long the reasoning phase lasted, or zero if
// it has not finished.
func (m *Message) ReasoningDuration() time.Duration {
	if m.ReasoningStartTime == nil || m.ReasoningEndTime == nil {
		return 0
	}
	return m.ReasoningEndTime.Sub(*m.ReasoningStartTime)
}

// MessagePatch is a shallow partial update for a message. Nil fields are left
// untouched. ID and Role are deliberately absent: both are immutable.
type MessagePatch struct {
	Content   *string
	Reasoning *string
	Model     *string
	Error     *MessageError
	Aborted   *bool
	Assets    *[]AssetRef
}

// Apply merges the patch into m.
func (p MessagePatch) Apply(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Reasoning != nil {
		m.Reasoning = *p.Reasoning
	}
	if p.Model != nil {
		m.Model = *p.Model
	}
	if p.Error != nil {
		e := *p.Error
		m.Error = &e
	}
	if p.Aborted != nil {
		m.Aborted = *p.Aborted
	}
	if p.Assets != nil {
		m.Assets = append([]AssetRef(nil), (*p.Assets)...)
	}
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []*Message) []*Message {
	if msgs == nil {
		return nil
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// NewMessageID creates a unique, time-ordered message ID.
func NewMessageID() string {
	return "msg_" + ulid.Make().String()
}

// Now returns the current time in UTC truncated to milliseconds, the
// precision every persisted and synced timestamp uses.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
