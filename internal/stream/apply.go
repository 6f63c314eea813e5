// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
)

// Target receives the folded events. conversation.Manager implements it.
type Target interface {
	AppendToMessage(id, delta string) bool
	AppendToReasoning(id, delta string) bool
	EndReasoning(id string) bool
}

// Status is how a response ended.
type Status int

const (
	StatusCompleted Status = iota
	StatusAborted
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of Apply. Err is set only for StatusFailed.
type Outcome struct {
	Status Status
	Err    error
	Events int
}

// Apply folds every event of es into message id of target, in order, until
// the stream ends, fails or ctx is cancelled. ctx is checked before and
// after each Next so no event is applied once cancellation is seen; an
// expired deadline counts as a failure. A text delta closes an open
// reasoning phase. Apply closes es.
func Apply(ctx context.Context, target Target, id string, es EventStream) Outcome {
	defer es.Close()

	reasoning := false
	endReasoning := func() {
		if reasoning {
			target.EndReasoning(id)
			reasoning = false
		}
	}

	applied := 0
	for {
		if ctx.Err() != nil {
			endReasoning()
			return interrupted(ctx, applied)
		}

		ev, err := es.Next(ctx)
		if err != nil {
			endReasoning()
			if errors.Is(err, io.EOF) {
				return Outcome{Status: StatusCompleted, Events: applied}
			}
			if ctx.Err() != nil {
				return interrupted(ctx, applied)
			}
			if errors.Is(err, context.Canceled) {
				return Outcome{Status: StatusAborted, Events: applied}
			}
			return Outcome{Status: StatusFailed, Err: err, Events: applied}
		}
		if ctx.Err() != nil {
			endReasoning()
			return interrupted(ctx, applied)
		}

		switch ev.Kind {
		case EventReasoningStart:
			reasoning = true
		case EventReasoningDelta:
			reasoning = true
			target.AppendToReasoning(id, ev.Text)
		case EventReasoningEnd:
			target.EndReasoning(id)
			reasoning = false
		case EventTextDelta:
			endReasoning()
			target.AppendToMessage(id, ev.Text)
		}
		applied++
	}
}

// interrupted maps a done ctx to an outcome: a deadline is a failure,
// cancellation is an abort.
func interrupted(ctx context.Context, applied int) Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Outcome{Status: StatusFailed, Err: context.DeadlineExceeded, Events: applied}
	}
	return Outcome{Status: StatusAborted, Events: applied}
}
