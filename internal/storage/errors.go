// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// ErrNotFound is returned when a conversation body doesn't exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &ConversationError{Message: "conversation not found"}

// ErrFolderNotFound is returned when a folder doesn't exist.
var ErrFolderNotFound = &ConversationError{Message: "folder not found"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
	ID      string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	if e.ID != "" {
		return e.Message + ": " + e.ID
	}
	return e.Message
}

// Is matches on Message so ID-carrying errors compare equal to the sentinels.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

func notFound(id string) error {
	return &ConversationError{Message: ErrNotFound.Message, ID: id}
}
