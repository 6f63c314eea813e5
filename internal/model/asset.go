// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// AssetType classifies an attachment.
type AssetType string

const (
	AssetImage AssetType = "image"
	AssetPDF   AssetType = "pdf"
	AssetFile  AssetType = "file"
)

// AssetTypeForMIME maps a MIME type onto an asset type.
func AssetTypeForMIME(mimeType string) AssetType {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return AssetImage
	case mt == "application/pdf":
		return AssetPDF
	default:
		return AssetFile
	}
}

// AssetRef is the attachment reference embedded in a message. A ref whose
// record no longer exists is dangling and must be tolerated.
type AssetRef struct {
	ID       string    `json:"id"`
	Type     AssetType `json:"type"`
	MIMEType string    `json:"mimeType,omitempty"`
	Name     string    `json:"name,omitempty"`
}

// AssetRecord is a stored attachment. ID is the hex SHA-256 of Blob.
type AssetRecord struct {
	ID        string    `json:"id"`
	Type      AssetType `json:"type"`
	MIMEType  string    `json:"mimeType"`
	Name      string    `json:"name,omitempty"`
	Size      int64     `json:"size,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Blob      []byte    `json:"blob,omitempty"`
}

// Ref returns the message-embeddable reference for the record.
func (r *AssetRecord) Ref() AssetRef {
	return AssetRef{ID: r.ID, Type: r.Type, MIMEType: r.MIMEType, Name: r.Name}
}
