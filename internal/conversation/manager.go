// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ckt1031/simple-chat/internal/model"
)

// Store is the durable store behind the Manager.
type Store interface {
	ReadIndex(ctx context.Context) *model.ConversationIndex
	ReadFolders(ctx context.Context) *model.FolderIndex
	UpsertHeader(ctx context.Context, h model.ConversationHeader) error
	UpsertFolder(ctx context.Context, f model.ConversationFolder) error
	DeleteFolder(ctx context.Context, id string) error
	WriteBody(ctx context.Context, id string, body *model.ConversationBody) error
	ReadBody(ctx context.Context, id string) (*model.ConversationBody, error)
	DeleteConversation(ctx context.Context, id string) error
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager is the conversation state machine.
type Manager struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	mu sync.Mutex

	headers  *model.ConversationIndex
	folders  *model.FolderIndex
	hydrated bool

	// Open conversation
	currentID            string
	current              []*model.Message
	currentSelectedModel *model.ModelRef
	tempModelSelection   *model.ModelRef

	loading map[string]bool

	// background holds conversations switched away from mid-generation.
	background map[string]*buffer

	// openSeq discards body reads superseded by a later open.
	openSeq uint64

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	// Async write queue
	qmu     sync.Mutex
	tail    chan struct{}
	pending sync.WaitGroup
}

type buffer struct {
	messages      []*model.Message
	selectedModel *model.ModelRef
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over store. Call Hydrate before use.
func NewManager(store Store, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		logger:     logger.With().Str("component", "conversation").Logger(),
		now:        model.Now,
		headers:    model.NewConversationIndex(),
		folders:    model.NewFolderIndex(),
		current:    []*model.Message{},
		loading:    make(map[string]bool),
		background: make(map[string]*buffer),
		subs:       make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// HYDRATION
// =============================================================================

// Hydrate loads the conversation and folder indexes from the store and
// clears every loading flag. A second call is logged and ignored.
func (m *Manager) Hydrate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.hydrated {
		m.mu.Unlock()
		m.logger.Warn().Msg("hydrate called twice, ignoring")
		return nil
	}
	m.mu.Unlock()

	headers := m.store.ReadIndex(ctx)
	folders := m.store.ReadFolders(ctx)

	m.mu.Lock()
	m.headers = headers
	m.folders = folders
	m.loading = make(map[string]bool)
	m.hydrated = true
	m.mu.Unlock()

	m.logger.Info().Int("conversations", headers.Len()).Msg("hydrated")
	m.emit(Change{Kind: ChangeHydrated})
	return nil
}

// Reload re-reads both indexes after the store was changed underneath the
// Manager (sync pull, import). The open conversation is dropped if it no
// longer exists, otherwise reloaded unless it is generating.
func (m *Manager) Reload(ctx context.Context) error {
	m.Flush()
	headers := m.store.ReadIndex(ctx)
	folders := m.store.ReadFolders(ctx)

	m.mu.Lock()
	m.headers = headers
	m.folders = folders
	m.hydrated = true
	for id := range m.background {
		if !headers.Has(id) {
			delete(m.background, id)
			delete(m.loading, id)
		}
	}
	reopen := ""
	if m.currentID != "" {
		switch {
		case !headers.Has(m.currentID):
			delete(m.loading, m.currentID)
			m.clearCurrentLocked()
		case !m.loading[m.currentID]:
			reopen = m.currentID
			m.current = []*model.Message{}
		}
	}
	m.mu.Unlock()

	m.emit(Change{Kind: ChangeConversations})
	m.emit(Change{Kind: ChangeFolders})
	if reopen != "" {
		return m.OpenConversation(ctx, reopen)
	}
	m.emit(Change{Kind: ChangeCurrent})
	return nil
}

// IsHydrated reports whether Hydrate has completed.
func (m *Manager) IsHydrated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hydrated
}

// =============================================================================
// LOADING FLAGS
// =============================================================================

// SetConversationLoading sets or clears the loading flag for id.
func (m *Manager) SetConversationLoading(id string, loading bool) {
	m.mu.Lock()
	if loading {
		m.loading[id] = true
	} else {
		delete(m.loading, id)
	}
	m.mu.Unlock()
	m.emit(Change{Kind: ChangeLoading, ConversationID: id})
}

// StopConversation clears the loading flag for id. It does not cancel the
// generation; that is the caller's cancellation token.
func (m *Manager) StopConversation(id string) {
	m.SetConversationLoading(id, false)
}

// ResetAllLoadingStates clears every loading flag.
func (m *Manager) ResetAllLoadingStates() {
	m.mu.Lock()
	m.loading = make(map[string]bool)
	m.mu.Unlock()
	m.emit(Change{Kind: ChangeLoading})
}

// IsLoading reports whether id is generating.
func (m *Manager) IsLoading(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading[id]
}

// LoadingIDs returns the ids with the loading flag set, sorted.
func (m *Manager) LoadingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.loading))
	for id := range m.loading {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// READERS
// =============================================================================

// State is a copy of the Manager's state.
type State struct {
	Headers               []model.ConversationHeader
	Folders               []model.ConversationFolder
	CurrentConversationID string
	CurrentMessages       []*model.Message
	CurrentSelectedModel  *model.ModelRef
	TempModelSelection    *model.ModelRef
	LoadingByID           map[string]bool
	IsHydrated            bool
}

// State returns a copy of the whole state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	loading := make(map[string]bool, len(m.loading))
	for k, v := range m.loading {
		loading[k] = v
	}
	return State{
		Headers:               m.headers.Headers(),
		Folders:               m.folders.Folders(),
		CurrentConversationID: m.currentID,
		CurrentMessages:       model.CloneMessages(m.current),
		CurrentSelectedModel:  cloneRef(m.currentSelectedModel),
		TempModelSelection:    cloneRef(m.tempModelSelection),
		LoadingByID:           loading,
		IsHydrated:            m.hydrated,
	}
}

// Headers returns the conversation headers in display order.
func (m *Manager) Headers() []model.ConversationHeader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers.Headers()
}

// Header returns the header for id.
func (m *Manager) Header(id string) (model.ConversationHeader, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers.Get(id)
}

// Folders returns the folders in display order.
func (m *Manager) Folders() []model.ConversationFolder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.folders.Folders()
}

// CurrentID returns the open conversation id, "" if none.
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

// Messages returns copies of the open conversation's messages.
func (m *Manager) Messages() []*model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.CloneMessages(m.current)
}

// Message returns a copy of the message with id from the open conversation
// or a background buffer.
func (m *Manager) Message(id string) (*model.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, _ := m.findLocked(id)
	if msg == nil {
		return nil, false
	}
	return msg.Clone(), true
}

// ConversationMessages returns copies of the in-memory messages of id, from
// the open conversation or a background buffer. ok is false if id is not in
// memory.
func (m *Manager) ConversationMessages(id string) (msgs []*model.Message, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" && id == m.currentID {
		return model.CloneMessages(m.current), true
	}
	if b, found := m.background[id]; found {
		return model.CloneMessages(b.messages), true
	}
	return nil, false
}

// SelectedModel returns the open conversation's model selection.
func (m *Manager) SelectedModel() *model.ModelRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRef(m.currentSelectedModel)
}

// SelectedModelFor returns the model selection of an in-memory conversation.
func (m *Manager) SelectedModelFor(conversationID string) *model.ModelRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conversationID != "" && conversationID == m.currentID {
		return cloneRef(m.currentSelectedModel)
	}
	if b, ok := m.background[conversationID]; ok {
		return cloneRef(b.selectedModel)
	}
	return nil
}

// SetSelectedModel changes the open conversation's model. With no open
// conversation it sets the temporary selection used by the next
// CreateNewConversation.
func (m *Manager) SetSelectedModel(ref *model.ModelRef) {
	m.mu.Lock()
	if m.currentID == "" {
		m.tempModelSelection = cloneRef(ref)
	} else {
		m.currentSelectedModel = cloneRef(ref)
	}
	m.mu.Unlock()
	m.emit(Change{Kind: ChangeCurrent})
}

// SetTempModelSelection sets the model used by the next new conversation.
func (m *Manager) SetTempModelSelection(ref *model.ModelRef) {
	m.mu.Lock()
	m.tempModelSelection = cloneRef(ref)
	m.mu.Unlock()
	m.emit(Change{Kind: ChangeCurrent})
}

// =============================================================================
// ASYNC WRITE QUEUE
// =============================================================================

// enqueue runs fn in the background after every previously queued write.
func (m *Manager) enqueue(what string, fn func(ctx context.Context) error) {
	m.qmu.Lock()
	prev := m.tail
	done := make(chan struct{})
	m.tail = done
	m.pending.Add(1)
	m.qmu.Unlock()

	go func() {
		defer m.pending.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		if err := fn(context.Background()); err != nil {
			m.logger.Error().Err(err).Str("write", what).Msg("background write failed")
		}
	}()
}

// Flush blocks until every queued background write has finished.
func (m *Manager) Flush() {
	m.pending.Wait()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// findLocked locates a message by id in the open conversation or a
// background buffer. Returns the message and the slice holding it.
func (m *Manager) findLocked(id string) (*model.Message, *[]*model.Message) {
	for _, msg := range m.current {
		if msg.ID == id {
			return msg, &m.current
		}
	}
	for _, b := range m.background {
		for _, msg := range b.messages {
			if msg.ID == id {
				return msg, &b.messages
			}
		}
	}
	return nil, nil
}

// ownerLocked returns the conversation id holding the message list.
func (m *Manager) ownerLocked(list *[]*model.Message) string {
	if list == &m.current {
		return m.currentID
	}
	for id, b := range m.background {
		if list == &b.messages {
			return id
		}
	}
	return ""
}

// detachLocked moves the open conversation to the background buffer if it
// is generating.
func (m *Manager) detachLocked() {
	if m.currentID == "" || !m.loading[m.currentID] {
		return
	}
	m.background[m.currentID] = &buffer{
		messages:      m.current,
		selectedModel: m.currentSelectedModel,
	}
	m.logger.Debug().Str("conversation_id", m.currentID).Msg("conversation continues in background")
}

// attachLocked makes id current, reattaching its background buffer if one
// exists. Returns false if there was no buffer.
func (m *Manager) attachLocked(id string) bool {
	m.currentID = id
	if b, ok := m.background[id]; ok {
		delete(m.background, id)
		m.current = b.messages
		m.currentSelectedModel = b.selectedModel
		return true
	}
	m.current = []*model.Message{}
	m.currentSelectedModel = nil
	return false
}

func (m *Manager) clearCurrentLocked() {
	m.currentID = ""
	m.current = []*model.Message{}
	m.currentSelectedModel = nil
}

func cloneRef(ref *model.ModelRef) *model.ModelRef {
	if ref == nil {
		return nil
	}
	c := *ref
	return &c
}
