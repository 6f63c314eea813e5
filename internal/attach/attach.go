// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attach

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ckt1031/simple-chat/internal/assets"
	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/stream"
	"github.com/ckt1031/simple-chat/internal/util"
)

// DefaultMaxTextBytes caps the text inlined from one attachment.
const DefaultMaxTextBytes = 64 * 1024

// DefaultMaxFileSize caps the size of an attached file.
const DefaultMaxFileSize = 20 * 1024 * 1024

// ErrTooLarge is returned for files over the size limit.
var ErrTooLarge = errors.New("attachment too large")

// BlobStore is the content-addressed store attachments live in.
type BlobStore interface {
	Put(ctx context.Context, data []byte, mimeType, name string) (*model.AssetRecord, error)
	Get(ctx context.Context, id string) (*model.AssetRecord, error)
	Delete(ctx context.Context, id string) error
}

// References drops message references to a deleted asset.
type References interface {
	RemoveAssetReferences(assetID string) int
	PersistCurrentConversation(ctx context.Context) error
}

// Config configures a Preprocessor.
type Config struct {
	Assets     BlobStore
	References References

	MaxTextBytes int
	MaxFileSize  int64
	Logger       zerolog.Logger
}

// Preprocessor stores attachments and turns them into request content. It
// implements stream.AttachmentResolver.
type Preprocessor struct {
	assets       BlobStore
	refs         References
	maxTextBytes int
	maxFileSize  int64
	logger       zerolog.Logger
}

// New creates a Preprocessor.
func New(cfg Config) *Preprocessor {
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = DefaultMaxTextBytes
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	return &Preprocessor{
		assets:       cfg.Assets,
		refs:         cfg.References,
		maxTextBytes: cfg.MaxTextBytes,
		maxFileSize:  cfg.MaxFileSize,
		logger:       cfg.Logger.With().Str("component", "attach").Logger(),
	}
}

// =============================================================================
// STORING
// =============================================================================

// Add stores data and returns the reference to embed in a message. An empty
// mimeType is sniffed from the name, then the content.
func (p *Preprocessor) Add(ctx context.Context, data []byte, mimeType, name string) (model.AssetRef, error) {
	if int64(len(data)) > p.maxFileSize {
		return model.AssetRef{}, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, name, len(data), p.maxFileSize)
	}
	if mimeType == "" {
		mimeType = DetectMIME(name, data)
	}
	rec, err := p.assets.Put(ctx, data, mimeType, name)
	if err != nil {
		return model.AssetRef{}, err
	}
	return rec.Ref(), nil
}

// AddFile reads a file from disk and stores it.
func (p *Preprocessor) AddFile(ctx context.Context, path string) (model.AssetRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.AssetRef{}, err
	}
	if info.Size() > p.maxFileSize {
		return model.AssetRef{}, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, path, info.Size(), p.maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.AssetRef{}, err
	}
	return p.Add(ctx, data, "", filepath.Base(path))
}

// Remove deletes an asset and every reference to it in the open
// conversation, then persists that conversation.
func (p *Preprocessor) Remove(ctx context.Context, assetID string) (int, error) {
	if err := p.assets.Delete(ctx, assetID); err != nil {
		return 0, err
	}
	if p.refs == nil {
		return 0, nil
	}
	n := p.refs.RemoveAssetReferences(assetID)
	if n == 0 {
		return 0, nil
	}
	return n, p.refs.PersistCurrentConversation(ctx)
}

// DetectMIME guesses a MIME type from the file extension, falling back to
// content sniffing.
func DetectMIME(name string, data []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if mt := assets.MIMEForExtension(ext); mt != "application/octet-stream" {
			return mt
		}
	}
	return assets.DetectMIME(data)
}

// =============================================================================
// RESOLVING
// =============================================================================

// Resolve implements stream.AttachmentResolver. Images are sent inline,
// text-like files as their text, anything else as a one-line note. A
// dangling reference returns assets.ErrNotFound.
func (p *Preprocessor) Resolve(ctx context.Context, ref model.AssetRef) (stream.Attachment, error) {
	rec, err := p.assets.Get(ctx, ref.ID)
	if err != nil {
		return stream.Attachment{}, err
	}
	name := ref.Name
	if name == "" {
		name = rec.Name
	}
	if name == "" {
		name = "attachment." + assets.ExtensionForMIME(rec.MIMEType)
	}
	att := stream.Attachment{Name: name}

	switch {
	case rec.Type == model.AssetImage:
		att.Image = &stream.Image{MIMEType: rec.MIMEType, Data: rec.Blob}
	case assets.IsTextLike(rec.MIMEType):
		att.Text = p.extractText(rec.Blob)
	default:
		att.Text = fmt.Sprintf("[%s attachment %s, %d bytes, content not included]", rec.Type, name, rec.Size)
	}
	return att, nil
}

// extractText decodes text content, honoring a UTF-16 or UTF-8 byte order
// mark, and cuts it at maxTextBytes on a rune boundary.
func (p *Preprocessor) extractText(data []byte) string {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(decoder, data)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to decode attachment text, using raw bytes")
		out = data
	}
	text := strings.ToValidUTF8(string(out), "�")
	if len(text) <= p.maxTextBytes {
		return text
	}
	cut := p.maxTextBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n" + util.Ellipsis + " (truncated)"
}
