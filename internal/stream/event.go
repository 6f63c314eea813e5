// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"io"

	"github.com/ckt1031/simple-chat/internal/model"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventKind discriminates stream events.
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventReasoningStart
	EventReasoningDelta
	EventReasoningEnd
)

// String returns the wire-style name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text-delta"
	case EventReasoningStart:
		return "reasoning-start"
	case EventReasoningDelta:
		return "reasoning-delta"
	case EventReasoningEnd:
		return "reasoning-end"
	default:
		return "unknown"
	}
}

// Event is one step of a model response. Text is set for delta kinds.
type Event struct {
	Kind EventKind
	Text string
}

// TextDelta returns a text-delta event.
func TextDelta(text string) Event { return Event{Kind: EventTextDelta, Text: text} }

// ReasoningDelta returns a reasoning-delta event.
func ReasoningDelta(text string) Event { return Event{Kind: EventReasoningDelta, Text: text} }

// =============================================================================
// BACKEND CONTRACT
// =============================================================================

// EventStream yields the events of one response. Next returns io.EOF after
// the last event and any other error as terminal. Close releases the
// underlying connection and may be called at any time.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Backend starts streaming responses. Implementations must stop promptly
// when ctx is cancelled.
type Backend interface {
	Stream(ctx context.Context, req Request) (EventStream, error)
}

// BackendResolver picks the backend for a provider.
type BackendResolver interface {
	BackendFor(p model.Provider) (Backend, error)
}

// BackendResolverFunc adapts a function to BackendResolver.
type BackendResolverFunc func(p model.Provider) (Backend, error)

// BackendFor implements BackendResolver.
func (f BackendResolverFunc) BackendFor(p model.Provider) (Backend, error) {
	return f(p)
}

// =============================================================================
// REQUEST
// =============================================================================

// Request is what a backend sends to the provider.
type Request struct {
	Provider model.Provider
	Model    string
	System   string
	Messages []ChatMessage
}

// ChatMessage is one entry of the request history.
type ChatMessage struct {
	Role    model.Role
	Content string
	Images  []Image
}

// Image is inline image data attached to a ChatMessage.
type Image struct {
	MIMEType string
	Data     []byte
}

// =============================================================================
// SLICE STREAM
// =============================================================================

// SliceStream is an EventStream over a fixed list of events, optionally
// ending with an error instead of io.EOF.
type SliceStream struct {
	Events []Event
	Err    error

	pos    int
	closed bool
}

// NewSliceStream returns a stream over events.
func NewSliceStream(events ...Event) *SliceStream {
	return &SliceStream{Events: events}
}

// Next implements EventStream.
func (s *SliceStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.closed || s.pos >= len(s.Events) {
		if s.Err != nil && !s.closed {
			return Event{}, s.Err
		}
		return Event{}, io.EOF
	}
	ev := s.Events[s.pos]
	s.pos++
	return ev, nil
}

// Close implements EventStream.
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
