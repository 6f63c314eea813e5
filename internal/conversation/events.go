// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

// ChangeKind says what part of the state changed.
type ChangeKind int

const (
	ChangeHydrated ChangeKind = iota
	ChangeConversations
	ChangeFolders
	ChangeCurrent
	ChangeMessages
	ChangeLoading
)

var changeKindNames = [...]string{"hydrated", "conversations", "folders", "current", "messages", "loading"}

// String returns the kind name.
func (k ChangeKind) String() string {
	if int(k) < len(changeKindNames) {
		return changeKindNames[k]
	}
	return "unknown"
}

// Change is emitted after every mutation. ConversationID and MessageID are
// set when the change is scoped to one of them.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	MessageID      string
}

// Subscribe registers fn for change notifications and returns a function
// that unregisters it. fn runs synchronously on the mutating goroutine with
// no Manager lock held; it may read the Manager but should return quickly.
func (m *Manager) Subscribe(fn func(Change)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) emit(c Change) {
	m.subMu.Lock()
	fns := make([]func(Change), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
