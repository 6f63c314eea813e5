// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Get for a name that does not exist.
var ErrObjectNotFound = errors.New("remote object not found")

// Object describes a stored object.
type Object struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Transport is a flat folder of named objects. Implementations must be safe
// for concurrent use.
type Transport interface {
	// List returns the objects whose name starts with prefix ("" for all).
	List(ctx context.Context, prefix string) ([]Object, error)

	// Get returns the object's bytes or ErrObjectNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put creates or overwrites an object.
	Put(ctx context.Context, name string, data []byte, contentType string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
}

// =============================================================================
// ERRORS
// =============================================================================

// RequestError is a failed transport operation.
type RequestError struct {
	Op         string
	Name       string
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Name != "" {
		b.WriteString(" ")
		b.WriteString(e.Name)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Code returns the HTTP status, or "remote" when there is none.
func (e *RequestError) Code() string {
	if e.StatusCode != 0 {
		return strconv.Itoa(e.StatusCode)
	}
	return "remote"
}

// =============================================================================
// OBJECT NAMES
// =============================================================================

// ConfigObject is the name of the settings and manifest object.
const ConfigObject = "config.json"

const (
	// ChatPrefix starts every conversation object name.
	ChatPrefix = "chat-"

	// AssetPrefix starts every asset object name.
	AssetPrefix = "asset-"

	chatSuffix = ".json"
)

// ChatObject returns the object name for a conversation.
func ChatObject(id string) string {
	return ChatPrefix + id + chatSuffix
}

// ParseChatObject extracts the conversation id from a chat object name.
func ParseChatObject(name string) (id string, ok bool) {
	if !strings.HasPrefix(name, ChatPrefix) || !strings.HasSuffix(name, chatSuffix) {
		return "", false
	}
	id = strings.TrimSuffix(strings.TrimPrefix(name, ChatPrefix), chatSuffix)
	return id, id != ""
}

// AssetObject returns the object name for an asset with extension ext.
func AssetObject(id, ext string) string {
	return AssetPrefix + id + "." + strings.TrimPrefix(ext, ".")
}

// ParseAssetObject extracts the asset id and extension from an asset object
// name.
func ParseAssetObject(name string) (id, ext string, ok bool) {
	if !strings.HasPrefix(name, AssetPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, AssetPrefix)
	dot := strings.LastIndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return "", "", false
	}
	return rest[:dot], rest[dot+1:], true
}

// ValidateName rejects names that are empty, hidden, or could leave the
// folder.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("object name is empty")
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("object name %q is hidden", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("object name %q contains a path separator", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("object name %q contains NUL", name)
	}
	return nil
}
