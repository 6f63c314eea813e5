// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "strings"

// Inline reasoning markers emitted by models that have no separate
// reasoning field.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

// ThinkSplitter routes text inside <think>...</think> to reasoning events.
// Tags split across calls are not recognized. The zero value is ready.
type ThinkSplitter struct {
	inThink bool
}

// Split converts one content delta into events.
func (s *ThinkSplitter) Split(text string) []Event {
	var out []Event
	for text != "" {
		if s.inThink {
			i := strings.Index(text, ThinkClose)
			if i < 0 {
				return append(out, ReasoningDelta(text))
			}
			if i > 0 {
				out = append(out, ReasoningDelta(text[:i]))
			}
			out = append(out, Event{Kind: EventReasoningEnd})
			s.inThink = false
			text = text[i+len(ThinkClose):]
			continue
		}

		i := strings.Index(text, ThinkOpen)
		if i < 0 {
			return append(out, TextDelta(text))
		}
		if i > 0 {
			out = append(out, TextDelta(text[:i]))
		}
		out = append(out, Event{Kind: EventReasoningStart})
		s.inThink = true
		text = text[i+len(ThinkOpen):]
	}
	return out
}

// InThink reports whether an opened <think> section is still open.
func (s *ThinkSplitter) InThink() bool {
	return s.inThink
}
