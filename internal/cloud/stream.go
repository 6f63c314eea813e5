// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/ckt1031/simple-chat/internal/stream"
)

// =============================================================================
// COMPLETION STREAM
// =============================================================================

// completionStream adapts a go-openai SSE stream to stream.EventStream.
// delta.reasoning_content becomes reasoning events and delta.content text
// events, with inline <think> sections routed to reasoning.
type completionStream struct {
	stream  *openai.ChatCompletionStream
	pending []stream.Event
	think   stream.ThinkSplitter
	done    bool

	// FinishReason is the last finish_reason seen.
	FinishReason openai.FinishReason
}

// Next implements stream.EventStream.
func (s *completionStream) Next(ctx context.Context) (stream.Event, error) {
	for len(s.pending) == 0 {
		if s.done {
			return stream.Event{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return stream.Event{}, err
		}

		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return stream.Event{}, io.EOF
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stream.Event{}, ctxErr
			}
			return stream.Event{}, wrapError(err)
		}

		for _, choice := range resp.Choices {
			if choice.Index != 0 {
				continue
			}
			if choice.Delta.ReasoningContent != "" {
				s.pending = append(s.pending, stream.ReasoningDelta(choice.Delta.ReasoningContent))
			}
			if choice.Delta.Content != "" {
				s.pending = append(s.pending, s.think.Split(choice.Delta.Content)...)
			}
			if choice.FinishReason != "" {
				s.FinishReason = choice.FinishReason
			}
		}
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

// Close implements stream.EventStream.
func (s *completionStream) Close() error {
	s.done = true
	s.pending = nil
	s.stream.Close()
	return nil
}
