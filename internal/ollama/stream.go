// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/ckt1031/simple-chat/internal/stream"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader turns an NDJSON /api/chat response into stream events.
// message.thinking becomes reasoning deltas; message.content becomes text
// deltas, with <think>...</think> sections routed to reasoning. It
// implements stream.EventStream.
type StreamReader struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	pending []stream.Event
	think   stream.ThinkSplitter
	done    bool
	stats   Stats
}

// NewStreamReader creates a stream reader over body. Close closes body.
func NewStreamReader(body io.ReadCloser) *StreamReader {
	return &StreamReader{
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// Next returns the next event, io.EOF after the final chunk, or the error
// that ended the stream.
func (s *StreamReader) Next(ctx context.Context) (stream.Event, error) {
	for len(s.pending) == 0 {
		if s.done {
			return stream.Event{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return stream.Event{}, err
		}
		if err := s.readChunk(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stream.Event{}, ctxErr
			}
			return stream.Event{}, err
		}
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

// Close releases the response body.
func (s *StreamReader) Close() error {
	s.done = true
	s.pending = nil
	return s.body.Close()
}

// Stats returns the statistics of the final chunk, once seen.
func (s *StreamReader) Stats() Stats {
	return s.stats
}

// readChunk reads and parses a single line from the stream.
func (s *StreamReader) readChunk() error {
	line, readErr := s.reader.ReadBytes('\n')
	line = bytes.TrimSpace(line)

	if len(line) > 0 {
		var chunk ChatChunk
		if err := json.Unmarshal(line, &chunk); err == nil {
			if chunk.Error != "" {
				return &ClientError{Type: ErrTypeInvalidResponse, Message: chunk.Error}
			}
			s.apply(chunk)
		}
		// Malformed lines are skipped
	}

	switch {
	case readErr == nil:
		return nil
	case errors.Is(readErr, io.EOF):
		// A body that ends without a done chunk still ends the response
		s.done = true
		return nil
	default:
		return &ClientError{Type: ErrTypeConnection, Message: "stream interrupted", Cause: readErr}
	}
}

func (s *StreamReader) apply(chunk ChatChunk) {
	if chunk.Message.Thinking != "" {
		s.push(stream.ReasoningDelta(chunk.Message.Thinking))
	}
	if chunk.Message.Content != "" {
		s.pending = append(s.pending, s.think.Split(chunk.Message.Content)...)
	}
	if chunk.Done {
		s.done = true
		s.stats = Stats{
			Model:            chunk.Model,
			DoneReason:       chunk.DoneReason,
			TotalDuration:    time.Duration(chunk.TotalDuration),
			EvalDuration:     time.Duration(chunk.EvalDuration),
			PromptTokens:     chunk.PromptEvalCount,
			CompletionTokens: chunk.EvalCount,
		}
	}
}

func (s *StreamReader) push(ev stream.Event) {
	s.pending = append(s.pending, ev)
}
