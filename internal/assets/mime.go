// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assets

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultExtension is used for MIME types with no known extension.
const DefaultExtension = "bin"

// attachmentMIMEs are the types looked up by extension. Their canonical
// extension comes from mimetype.
var attachmentMIMEs = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/svg+xml",
	"image/heic",
	"image/heif",
	"image/avif",
	"application/pdf",
	"application/json",
	"application/xml",
	"text/plain",
	"text/csv",
	"text/html",
	"text/rtf",
}

// textMIMEs covers text formats mimetype cannot tell apart from plain text.
var textMIMEs = map[string]string{
	"md":       "text/markdown",
	"markdown": "text/markdown",
	"yaml":     "application/x-yaml",
	"yml":      "application/x-yaml",
}

var mimeByExtension = func() map[string]string {
	m := make(map[string]string, len(attachmentMIMEs)+len(textMIMEs)+2)
	for _, mt := range attachmentMIMEs {
		if node := mimetype.Lookup(mt); node != nil && node.Extension() != "" {
			ext := strings.TrimPrefix(node.Extension(), ".")
			if _, ok := m[ext]; !ok {
				m[ext] = mt
			}
		}
	}
	for ext, mt := range textMIMEs {
		m[ext] = mt
	}
	m["jpeg"] = "image/jpeg"
	m["htm"] = "text/html"
	return m
}()

// baseMIME lowercases mimeType and drops its parameters.
func baseMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

// ExtensionForMIME returns the file extension (without dot) for a MIME type.
func ExtensionForMIME(mimeType string) string {
	mt := baseMIME(mimeType)
	switch mt {
	case "text/markdown":
		return "md"
	case "application/x-yaml", "application/yaml", "text/yaml":
		return "yaml"
	}
	if node := mimetype.Lookup(mt); node != nil && node.Extension() != "" {
		return strings.TrimPrefix(node.Extension(), ".")
	}
	return DefaultExtension
}

// MIMEForExtension returns the MIME type for an extension, with or without a
// leading dot. Unknown extensions map to application/octet-stream.
func MIMEForExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if mt, ok := mimeByExtension[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}

// DetectMIME sniffs data. Parameters such as charset are dropped.
func DetectMIME(data []byte) string {
	return baseMIME(mimetype.Detect(data).String())
}

// IsTextLike reports whether content of mimeType can be inlined as text.
func IsTextLike(mimeType string) bool {
	mt := baseMIME(mimeType)
	return strings.HasPrefix(mt, "text/") ||
		mt == "application/json" ||
		mt == "application/xml" ||
		mt == "application/x-yaml"
}
