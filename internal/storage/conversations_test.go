// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ckt1031/simple-chat/internal/kv"
	"github.com/ckt1031/simple-chat/internal/model"
)

func newTestStore(t *testing.T) (*ConversationStore, kv.Store) {
	t.Helper()
	db, err := kv.Open(kv.BackendSQLite, filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("Failed to open kv: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewConversationStore(db, zerolog.Nop()), db
}

// =============================================================================
// INDEX TESTS
// =============================================================================

func TestReadIndex_EmptyWhenUninitialized(t *testing.T) {
	store, _ := newTestStore(t)
	idx := store.ReadIndex(context.Background())
	if idx == nil || idx.Len() != 0 {
		t.Fatalf("ReadIndex = %+v, want empty index", idx)
	}
}

func TestReadIndex_CorruptRecordIsEmpty(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)
	require.NoError(t, db.Put(ctx, kv.BucketMeta, KeyConversationIndex, []byte("{not json")))

	idx := store.ReadIndex(ctx)
	require.Equal(t, 0, idx.Len())
}

func TestUpsertHeader_PrependsAndOverwrites(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	a := model.NewConversationHeader("")
	a.Title = "first"
	b := model.NewConversationHeader("")
	b.Title = "second"

	require.NoError(t, store.UpsertHeader(ctx, a))
	require.NoError(t, store.UpsertHeader(ctx, b))
	a.Title = "renamed"
	require.NoError(t, store.UpsertHeader(ctx, a))

	idx := store.ReadIndex(ctx)
	require.Equal(t, []string{b.ID, a.ID}, idx.IDs)
	h, ok := idx.Get(a.ID)
	require.True(t, ok)
	require.Equal(t, "renamed", h.Title)
}

func TestSearch_MatchesTitlesCaseFolded(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	for _, title := range []string{"Go Generics", "Straße names", "Recipes"} {
		h := model.NewConversationHeader("")
		h.Title = title
		require.NoError(t, store.UpsertHeader(ctx, h))
	}

	require.Len(t, store.Search(ctx, "generics"), 1)
	require.Len(t, store.Search(ctx, "STRASSE"), 1)
	require.Len(t, store.Search(ctx, ""), 3)
	require.Empty(t, store.Search(ctx, "nothing"))
}

// =============================================================================
// BODY TESTS
// =============================================================================

func TestWriteBody_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	start := model.Now()
	end := start.Add(1500 * time.Millisecond)
	user := model.NewMessage(model.RoleUser, "Hello")
	user.Assets = []model.AssetRef{{ID: "abc", Type: model.AssetImage, MIMEType: "image/png"}}
	assistant := model.NewMessage(model.RoleAssistant, "Hi there")
	assistant.Reasoning = "thinking"
	assistant.ReasoningStartTime = &start
	assistant.ReasoningEndTime = &end
	assistant.Model = "gpt-4o"
	assistant.Error = &model.MessageError{Message: "cut off", Code: "length"}

	body := &model.ConversationBody{
		Messages:      []*model.Message{user, assistant},
		SelectedModel: &model.ModelRef{ProviderID: "openai", Model: "gpt-4o"},
	}
	require.NoError(t, store.WriteBody(ctx, "c1", body))

	got, err := store.ReadBody(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestWriteBody_OverwritesWholesale(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.WriteBody(ctx, "c1", &model.ConversationBody{
		Messages: []*model.Message{model.NewMessage(model.RoleUser, "a"), model.NewMessage(model.RoleUser, "b")},
	}))
	require.NoError(t, store.WriteBody(ctx, "c1", &model.ConversationBody{
		Messages: []*model.Message{model.NewMessage(model.RoleUser, "c")},
	}))

	got, err := store.ReadBody(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "c", got.Messages[0].Content)
}

func TestReadBody_MissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	_, err := store.ReadBody(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing body: err = %v, want ErrNotFound", err)
	}

	require.NoError(t, db.Put(ctx, kv.BucketBodies, "bad", []byte("[[[")))
	_, err = store.ReadBody(ctx, "bad")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("corrupt body: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteConversation_RemovesHeaderAndBody(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	h := model.NewConversationHeader("")
	require.NoError(t, store.UpsertHeader(ctx, h))
	require.NoError(t, store.WriteBody(ctx, h.ID, &model.ConversationBody{}))

	require.NoError(t, store.DeleteConversation(ctx, h.ID))
	require.False(t, store.ReadIndex(ctx).Has(h.ID))
	_, err := store.ReadBody(ctx, h.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting again is harmless
	require.NoError(t, store.DeleteConversation(ctx, h.ID))
}

func TestPruneOrphanBodies(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	h := model.NewConversationHeader("")
	require.NoError(t, store.UpsertHeader(ctx, h))
	require.NoError(t, store.WriteBody(ctx, h.ID, &model.ConversationBody{}))
	require.NoError(t, store.WriteBody(ctx, "orphan", &model.ConversationBody{}))

	n, err := store.PruneOrphanBodies(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = store.ReadBody(ctx, h.ID)
	require.NoError(t, err)
	_, err = store.ReadBody(ctx, "orphan")
	require.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// FOLDER TESTS
// =============================================================================

func TestDeleteFolder_UngroupsConversations(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	f := model.NewConversationFolder("Work")
	require.NoError(t, store.UpsertFolder(ctx, f))
	h := model.NewConversationHeader(f.ID)
	require.NoError(t, store.UpsertHeader(ctx, h))

	require.NoError(t, store.DeleteFolder(ctx, f.ID))
	require.Empty(t, store.ReadFolders(ctx).Folders())
	got, _ := store.ReadIndex(ctx).Get(h.ID)
	require.Empty(t, got.FolderID)

	err := store.DeleteFolder(ctx, f.ID)
	require.ErrorIs(t, err, ErrFolderNotFound)
}

// =============================================================================
// SETTINGS AND SYNC METADATA TESTS
// =============================================================================

func TestSettings_AbsentThenStored(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, ok := store.ReadSettings(ctx)
	require.False(t, ok)

	want := model.Settings{
		Providers: []model.Provider{
			model.NewBuiltinProvider(model.BuiltinProvider{ID: model.BuiltinOllama, Enabled: true, Models: []string{"llama3"}}),
		},
		Preferences: model.Preferences{ShowReasoning: true},
	}
	require.NoError(t, store.WriteSettings(ctx, want))
	got, ok := store.ReadSettings(ctx)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestSyncMetadata_ZeroWhenAbsent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	meta := store.ReadSyncMetadata(ctx)
	require.True(t, meta.LastSyncTime.IsZero())

	meta.RemoteVersion = 3
	meta.SyncedIDs = []string{"a"}
	require.NoError(t, store.WriteSyncMetadata(ctx, meta))
	got := store.ReadSyncMetadata(ctx)
	require.Equal(t, int64(3), got.RemoteVersion)
	require.True(t, got.WasSynced("a"))
}

func TestClear_KeepsSettings(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	h := model.NewConversationHeader("")
	require.NoError(t, store.UpsertHeader(ctx, h))
	require.NoError(t, store.WriteBody(ctx, h.ID, &model.ConversationBody{}))
	require.NoError(t, store.UpsertFolder(ctx, model.NewConversationFolder("x")))
	require.NoError(t, store.WriteSettings(ctx, model.Settings{}))

	require.NoError(t, store.Clear(ctx))
	require.Equal(t, 0, store.ReadIndex(ctx).Len())
	require.Empty(t, store.ReadFolders(ctx).Folders())
	_, err := store.ReadBody(ctx, h.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, ok := store.ReadSettings(ctx)
	require.True(t, ok)
}
