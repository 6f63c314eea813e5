// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// recordingTarget logs every call as "op:id:text".
type recordingTarget struct {
	ops []string
}

func (r *recordingTarget) AppendToMessage(id, delta string) bool {
	r.ops = append(r.ops, "text:"+id+":"+delta)
	return true
}

func (r *recordingTarget) AppendToReasoning(id, delta string) bool {
	r.ops = append(r.ops, "reasoning:"+id+":"+delta)
	return true
}

func (r *recordingTarget) EndReasoning(id string) bool {
	r.ops = append(r.ops, "end:"+id)
	return true
}

// chanStream yields events sent on its channel and blocks otherwise.
type chanStream struct {
	events chan Event
	closed bool
}

func newChanStream() *chanStream {
	return &chanStream{events: make(chan Event)}
}

func (s *chanStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return ev, nil
	}
}

func (s *chanStream) Close() error {
	s.closed = true
	return nil
}

// =============================================================================
// APPLY TESTS
// =============================================================================

func TestApply_ReasoningThenText(t *testing.T) {
	target := &recordingTarget{}
	es := NewSliceStream(
		Event{Kind: EventReasoningStart},
		ReasoningDelta("think"),
		ReasoningDelta("ing"),
		TextDelta("Hi"),
		TextDelta(" there"),
	)

	out := Apply(context.Background(), target, "m1", es)

	require.Equal(t, StatusCompleted, out.Status)
	require.NoError(t, out.Err)
	require.Equal(t, 5, out.Events)
	require.Equal(t, []string{
		"reasoning:m1:think",
		"reasoning:m1:ing",
		"end:m1",
		"text:m1:Hi",
		"text:m1: there",
	}, target.ops)
	require.True(t, es.closed, "Apply should close the stream")
}

func TestApply_ExplicitReasoningEnd(t *testing.T) {
	target := &recordingTarget{}
	es := NewSliceStream(
		ReasoningDelta("a"),
		Event{Kind: EventReasoningEnd},
		TextDelta("b"),
	)

	out := Apply(context.Background(), target, "m", es)

	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, []string{"reasoning:m:a", "end:m", "text:m:b"}, target.ops)
}

func TestApply_ReasoningOnlyIsEndedAtEOF(t *testing.T) {
	target := &recordingTarget{}
	out := Apply(context.Background(), target, "m", NewSliceStream(ReasoningDelta("x")))

	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, []string{"reasoning:m:x", "end:m"}, target.ops)
}

func TestApply_ErrorIsFailure(t *testing.T) {
	boom := errors.New("boom")
	target := &recordingTarget{}
	es := NewSliceStream(ReasoningDelta("r"))
	es.Err = boom

	out := Apply(context.Background(), target, "m", es)

	if out.Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", out.Status)
	}
	if !errors.Is(out.Err, boom) {
		t.Errorf("Err = %v, want boom", out.Err)
	}
	// Reasoning is closed on every terminal state
	require.Equal(t, []string{"reasoning:m:r", "end:m"}, target.ops)
}

func TestApply_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := &recordingTarget{}
	out := Apply(ctx, target, "m", NewSliceStream(TextDelta("never")))

	require.Equal(t, StatusAborted, out.Status)
	require.Nil(t, out.Err)
	require.Empty(t, target.ops)
}

func TestApply_CancelDuringNext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	target := &recordingTarget{}
	es := newChanStream()

	done := make(chan Outcome, 1)
	go func() { done <- Apply(ctx, target, "m", es) }()

	es.events <- TextDelta("partial")
	// The second send completes only once the first event was applied
	es.events <- TextDelta(" more")
	cancel()

	select {
	case out := <-done:
		require.Equal(t, StatusAborted, out.Status)
		require.GreaterOrEqual(t, out.Events, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("Apply did not return after cancel")
	}
	require.NotEmpty(t, target.ops)
	require.Equal(t, "text:m:partial", target.ops[0])
}

func TestApply_DeadlineIsFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := Apply(ctx, &recordingTarget{}, "m", newChanStream())

	require.Equal(t, StatusFailed, out.Status)
	require.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestStatus_String(t *testing.T) {
	names := []string{StatusCompleted.String(), StatusAborted.String(), StatusFailed.String()}
	if got := strings.Join(names, ","); got != "completed,aborted,failed" {
		t.Errorf("names = %q", got)
	}
}

// =============================================================================
// CANCEL REGISTRY TESTS
// =============================================================================

func TestCancelRegistry_SetCancelsPrevious(t *testing.T) {
	r := NewCancelRegistry()
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())

	first := r.Set("c", cancel1)
	second := r.Set("c", cancel2)

	require.Error(t, ctx1.Err(), "first generation should be cancelled")
	require.True(t, first.Superseded())
	require.NoError(t, ctx2.Err())
	require.False(t, second.Superseded())

	// Finishing the stale entry must not remove the new one
	first.Release()
	first.Finish()
	require.Equal(t, []string{"c"}, r.Active())

	require.True(t, r.Cancel("c"))
	require.Error(t, ctx2.Err())
	require.False(t, r.Cancel("c"))
	require.Empty(t, r.Active())
	require.False(t, second.Superseded(), "a stop is not a takeover")
}

func TestCancelRegistry_SupersedeWaitsForFinish(t *testing.T) {
	r := NewCancelRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	h := r.Set("c", cancel)

	done, ok := r.Supersede("c")
	require.True(t, ok)
	require.Error(t, ctx.Err())
	require.True(t, h.Superseded())

	select {
	case <-done:
		t.Fatal("done closed before the generation finished")
	default:
	}

	h.Release()
	h.Finish()
	h.Finish()
	select {
	case <-done:
	default:
		t.Fatal("done not closed after Finish")
	}

	_, ok = r.Supersede("c")
	require.False(t, ok, "nothing registered after Finish")
}

func TestCancelRegistry_ReleasedIsNotActive(t *testing.T) {
	r := NewCancelRegistry()
	_, cancel := context.WithCancel(context.Background())
	h := r.Set("c", cancel)

	h.Release()
	require.Empty(t, r.Active())
	require.False(t, r.Cancel("c"), "stream already ended")
	h.Finish()
}

func TestCancelRegistry_CancelAll(t *testing.T) {
	r := NewCancelRegistry()
	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	r.Set("b", cancelB)
	r.Set("a", cancelA)

	require.Equal(t, []string{"a", "b"}, r.Active())
	r.CancelAll()

	require.Error(t, ctxA.Err())
	require.Error(t, ctxB.Err())
	require.Empty(t, r.Active())
}

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

type codedErr struct{ code string }

func (e codedErr) Error() string { return "backend said no" }
func (e codedErr) Code() string  { return e.code }

func TestToMessageError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"no provider", ErrNoProvider, CodeNoProvider},
		{"no model wrapped", errors.Join(errors.New("ctx"), ErrNoModel), CodeNoModel},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"coded", codedErr{code: "401"}, "401"},
		{"plain", errors.New("plain"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			me := ToMessageError(tt.err)
			if me == nil {
				t.Fatal("ToMessageError returned nil")
			}
			if me.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", me.Code, tt.wantCode)
			}
			if me.Message != tt.err.Error() {
				t.Errorf("Message = %q, want %q", me.Message, tt.err.Error())
			}
		})
	}

	if ToMessageError(nil) != nil {
		t.Error("ToMessageError(nil) should be nil")
	}
	require.True(t, IsConfigError(ErrNoModel))
	require.False(t, IsConfigError(context.Canceled))
}
