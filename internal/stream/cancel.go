// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sort"
	"sync"
)

// =============================================================================
// CANCELLATION REGISTRY (THREAD-SAFE)
// =============================================================================

// CancelRegistry tracks each conversation's in-flight generation. Each
// conversation has at most one. A generation stays registered from Set until
// its Handle is finished, so a successor can wait for it to unwind.
type CancelRegistry struct {
	mu      sync.Mutex
	entries map[string]*cancelEntry
}

type cancelEntry struct {
	cancel     context.CancelFunc
	done       chan struct{}
	stopped    bool // cancelled, or its stream already ended
	superseded bool
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{entries: make(map[string]*cancelEntry)}
}

// Handle is one registered generation.
type Handle struct {
	r  *CancelRegistry
	id string
	e  *cancelEntry
}

// Set registers fn for conversationID. A previous generation is cancelled
// and marked superseded.
func (r *CancelRegistry) Set(conversationID string, fn context.CancelFunc) *Handle {
	e := &cancelEntry{cancel: fn, done: make(chan struct{})}

	r.mu.Lock()
	if prev, ok := r.entries[conversationID]; ok {
		prev.supersedeLocked()
	}
	r.entries[conversationID] = e
	r.mu.Unlock()

	return &Handle{r: r, id: conversationID, e: e}
}

// Release cancels the generation's context once its stream has ended. The
// generation can no longer be stopped but is still registered.
func (h *Handle) Release() {
	h.r.mu.Lock()
	h.e.stopped = true
	h.r.mu.Unlock()
	h.e.cancel()
}

// Superseded reports whether a later generation took over the conversation.
// A superseded generation leaves the loading flag to its successor.
func (h *Handle) Superseded() bool {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.e.superseded
}

// Finish unregisters the generation and wakes anyone waiting on it. Safe to
// call more than once.
func (h *Handle) Finish() {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	if h.r.entries[h.id] == h.e {
		delete(h.r.entries, h.id)
	}
	select {
	case <-h.e.done:
	default:
		close(h.e.done)
	}
}

// Supersede cancels the generation in conversationID and marks it
// superseded. The channel closes once that generation has finished; ok is
// false if there was none.
func (r *CancelRegistry) Supersede(conversationID string) (done <-chan struct{}, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.entries[conversationID]
	if !found {
		return nil, false
	}
	e.supersedeLocked()
	return e.done, true
}

func (e *cancelEntry) supersedeLocked() {
	e.superseded = true
	if !e.stopped {
		e.stopped = true
		e.cancel()
	}
}

// Cancel signals the generation for conversationID. Returns false if none
// was running. Safe to call multiple times.
func (r *CancelRegistry) Cancel(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conversationID]
	if !ok || e.stopped {
		return false
	}
	e.stopped = true
	e.cancel()
	return true
}

// CancelAll signals every in-flight generation.
func (r *CancelRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if !e.stopped {
			e.stopped = true
			e.cancel()
		}
	}
}

// Active returns the conversation ids with a generation that can still be
// stopped.
func (r *CancelRegistry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if !e.stopped {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
