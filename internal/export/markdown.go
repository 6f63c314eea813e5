// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/ckt1031/simple-chat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// Conversation is one conversation as exported: its header and body.
type Conversation struct {
	Header model.ConversationHeader
	Body   *model.ConversationBody
}

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
	now     func() time.Time
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts, now: time.Now}
}

// Export converts a conversation to Markdown format.
func (e *MarkdownExporter) Export(conv *Conversation) ([]byte, error) {
	if conv == nil || conv.Body == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	if len(conv.Body.Messages) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}
	h := conv.Header
	title := h.Title
	if title == "" {
		title = model.DefaultTitle
	}

	var sb strings.Builder

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(title)))
		if conv.Body.SelectedModel != nil {
			sb.WriteString(fmt.Sprintf("model: %s\n", escapeYAML(conv.Body.SelectedModel.String())))
		}
		sb.WriteString(fmt.Sprintf("date: %s\n", h.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("updated: %s\n", h.LastModified().Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(conv.Body.Messages)))
		sb.WriteString(fmt.Sprintf("exported: %s\n", e.now().Format(time.RFC3339)))
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(title)))

	for i, msg := range conv.Body.Messages {
		label := msg.Role.DisplayName()
		if msg.Role == model.RoleAssistant && msg.Model != "" {
			label += " (" + msg.Model + ")"
		}
		if e.options.IncludeTimestamps {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n", label, formatTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", label))
		}

		if e.options.IncludeReasoning && strings.TrimSpace(msg.Reasoning) != "" {
			sb.WriteString(e.formatReasoning(msg))
			sb.WriteString("\n\n")
		}

		if content := strings.TrimSpace(msg.Content); content != "" {
			sb.WriteString(content)
			sb.WriteString("\n\n")
		}

		for _, ref := range msg.Assets {
			sb.WriteString(formatAsset(ref))
		}
		if len(msg.Assets) > 0 {
			sb.WriteString("\n")
		}

		if msg.Error != nil {
			sb.WriteString(fmt.Sprintf("> **Error**: %s\n\n", msg.Error.Message))
		} else if msg.Aborted {
			sb.WriteString("> *Stopped*\n\n")
		}

		if i < len(conv.Body.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(strings.TrimRight(sb.String(), "\n") + "\n"), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func (e *MarkdownExporter) formatReasoning(msg *model.Message) string {
	summary := "Reasoning"
	if d := msg.ReasoningDuration(); d > 0 {
		summary = fmt.Sprintf("Reasoning (%s)", formatDuration(d.Milliseconds()))
	}
	return fmt.Sprintf("<details>\n<summary>%s</summary>\n\n%s\n\n</details>",
		summary, strings.TrimSpace(msg.Reasoning))
}

func formatAsset(ref model.AssetRef) string {
	name := ref.Name
	if name == "" {
		name = ref.ID
	}
	return fmt.Sprintf("- Attachment: `%s` (%s)\n", name, ref.Type)
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes a value that would not parse as a plain YAML scalar.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
