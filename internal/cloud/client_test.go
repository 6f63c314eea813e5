// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/stream"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// sseServer answers /chat/completions with the given data payloads.
func sseServer(t *testing.T, capture *map[string]any, payloads ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
}

func delta(content, reasoning string) string {
	d := map[string]any{"content": content}
	if reasoning != "" {
		d["reasoning_content"] = reasoning
	}
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"choices": []any{map[string]any{"index": 0, "delta": d}},
	})
	return string(b)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url + "/v1", APIKey: "sk-test", MaxRetries: -1, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, es stream.EventStream) ([]stream.Event, error) {
	t.Helper()
	defer es.Close()
	var events []stream.Event
	for {
		ev, err := es.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestStream_ReasoningContentThenText(t *testing.T) {
	var req map[string]any
	server := sseServer(t, &req,
		delta("", "Let me think"),
		delta("", " harder"),
		delta("Hello", ""),
		delta(" world", ""),
	)
	defer server.Close()

	es, err := newTestClient(t, server.URL).Stream(context.Background(), stream.Request{
		Model:    "deepseek-reasoner",
		System:   "be brief",
		Messages: []stream.ChatMessage{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	events, err := collect(t, es)
	require.NoError(t, err)

	require.Equal(t, []stream.Event{
		stream.ReasoningDelta("Let me think"),
		stream.ReasoningDelta(" harder"),
		stream.TextDelta("Hello"),
		stream.TextDelta(" world"),
	}, events)

	require.Equal(t, "deepseek-reasoner", req["model"])
	require.Equal(t, true, req["stream"])
	msgs := req["messages"].([]any)
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].(map[string]any)["role"])
	require.Equal(t, "hi", msgs[1].(map[string]any)["content"])
}

func TestStream_InlineThinkTags(t *testing.T) {
	server := sseServer(t, nil,
		delta("<think>plan", ""),
		delta("</think>Answer", ""),
	)
	defer server.Close()

	es, err := newTestClient(t, server.URL).Stream(context.Background(), stream.Request{Model: "m"})
	require.NoError(t, err)
	events, err := collect(t, es)
	require.NoError(t, err)

	require.Equal(t, []stream.Event{
		{Kind: stream.EventReasoningStart},
		stream.ReasoningDelta("plan"),
		{Kind: stream.EventReasoningEnd},
		stream.TextDelta("Answer"),
	}, events)
}

func TestStream_ImagesUseMultiPartContent(t *testing.T) {
	var req map[string]any
	server := sseServer(t, &req, delta("ok", ""))
	defer server.Close()

	es, err := newTestClient(t, server.URL).Stream(context.Background(), stream.Request{
		Model: "gpt-4o",
		Messages: []stream.ChatMessage{{
			Role:    model.RoleUser,
			Content: "what is this",
			Images:  []stream.Image{{MIMEType: "image/png", Data: []byte{0x89, 0x50}}},
		}},
	})
	require.NoError(t, err)
	_, err = collect(t, es)
	require.NoError(t, err)

	parts := req["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	require.Equal(t, "text", parts[0].(map[string]any)["type"])
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	require.Equal(t, "data:image/png;base64,iVA=", img["url"])
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestStream_UnauthorizedIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Invalid API key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL + "/v1", APIKey: "sk-test", MaxRetries: 3})
	require.NoError(t, err)
	_, err = c.Stream(context.Background(), stream.Request{Model: "gpt-4o"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "Invalid API key", apiErr.Message)
	require.False(t, apiErr.Retryable())
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	me := stream.ToMessageError(err)
	require.Equal(t, "401", me.Code)
}

func TestStream_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, `{"error":{"message":"upstream unavailable"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", delta("recovered", ""))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL + "/v1", APIKey: "sk-test", MaxRetries: 1})
	require.NoError(t, err)
	es, err := c.Stream(context.Background(), stream.Request{Model: "gpt-4o"})
	require.NoError(t, err)
	events, err := collect(t, es)
	require.NoError(t, err)

	require.Equal(t, []stream.Event{stream.TextDelta("recovered")}, events)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStream_CancelledWhileWaitingToRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL + "/v1", MaxRetries: 5})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Stream(ctx, stream.Request{Model: "m"})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{10, retryMaxDelay},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestAPIError_Code(t *testing.T) {
	if got := (&APIError{StatusCode: 429}).Code(); got != "429" {
		t.Errorf("Code() = %q, want 429", got)
	}
	if got := (&APIError{Message: "dial"}).Code(); got != "network" {
		t.Errorf("Code() = %q, want network", got)
	}
	if !(&APIError{StatusCode: 429}).Retryable() {
		t.Error("429 should be retryable")
	}
}
