// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ckt1031/simple-chat/internal/assets"
	"github.com/ckt1031/simple-chat/internal/conversation"
	"github.com/ckt1031/simple-chat/internal/kv"
	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/remote"
	"github.com/ckt1031/simple-chat/internal/storage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeClock advances one second per reading so every persist is ordered.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// device is one installation: its own database, state machine and engine.
type device struct {
	store   *storage.ConversationStore
	assets  *assets.Store
	manager *conversation.Manager
	engine  *Engine
}

func newDevice(t *testing.T, transport remote.Transport, clock *fakeClock) *device {
	t.Helper()
	db, err := kv.Open(kv.BackendSQLite, filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("failed to open kv: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d := &device{
		store:  storage.NewConversationStore(db, zerolog.Nop()),
		assets: assets.NewStore(db, zerolog.Nop(), assets.WithClock(clock.Now)),
	}
	d.manager = conversation.NewManager(d.store, zerolog.Nop(), conversation.WithClock(clock.Now))
	require.NoError(t, d.manager.Hydrate(context.Background()))
	t.Cleanup(d.manager.Flush)

	d.engine = NewEngine(Config{
		Transport:     transport,
		Conversations: d.manager,
		Store:         d.store,
		Assets:        d.assets,
		Logger:        zerolog.Nop(),
		Now:           clock.Now,
	})
	return d
}

// chat creates a conversation with one user message and persists it.
func (d *device) chat(t *testing.T, text string) string {
	t.Helper()
	id := d.manager.CreateNewConversation("", nil)
	d.manager.AddMessage(model.Message{Role: model.RoleUser, Content: text})
	require.NoError(t, d.manager.PersistCurrentConversation(context.Background()))
	return id
}

// say appends a user message to conversation id and persists it.
func (d *device) say(t *testing.T, id, text string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, d.manager.OpenConversation(ctx, id))
	d.manager.AddMessage(model.Message{Role: model.RoleUser, Content: text})
	require.NoError(t, d.manager.PersistCurrentConversation(ctx))
}

func (d *device) body(t *testing.T, id string) *model.ConversationBody {
	t.Helper()
	body, err := d.store.ReadBody(context.Background(), id)
	require.NoError(t, err)
	return body
}

func newDir(t *testing.T) *remote.Dir {
	t.Helper()
	dir, err := remote.NewDir(filepath.Join(t.TempDir(), "remote"))
	require.NoError(t, err)
	return dir
}

func objectNames(t *testing.T, tr remote.Transport) []string {
	t.Helper()
	objs, err := tr.List(context.Background(), "")
	require.NoError(t, err)
	names := make([]string, len(objs))
	for i, o := range objs {
		names[i] = o.Name
	}
	sort.Strings(names)
	return names
}

func remoteConfig(t *testing.T, tr remote.Transport) ConfigDocument {
	t.Helper()
	data, err := tr.Get(context.Background(), remote.ConfigObject)
	require.NoError(t, err)
	var doc ConfigDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func manifestIDs(doc ConfigDocument) []string {
	ids := entryIDs(doc.Chats)
	sort.Strings(ids)
	return ids
}

func testSettings() model.Settings {
	return model.Settings{
		Providers: []model.Provider{
			model.NewBuiltinProvider(model.BuiltinProvider{ID: model.BuiltinOpenAI, APIKey: "sk-a", Enabled: true, Models: []string{"gpt-4o"}}),
		},
		Preferences: model.Preferences{SystemPrompt: "be brief", AutoSync: true},
	}
}

// flakyTransport injects failures and blocking into a transport.
type flakyTransport struct {
	remote.Transport

	mu      sync.Mutex
	failPut map[string]error

	entered chan struct{}
	release chan struct{}
}

func (f *flakyTransport) Put(ctx context.Context, name string, data []byte, ct string) error {
	f.mu.Lock()
	err := f.failPut[name]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Transport.Put(ctx, name, data, ct)
}

func (f *flakyTransport) List(ctx context.Context, prefix string) ([]remote.Object, error) {
	if f.release != nil {
		f.entered <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.Transport.List(ctx, prefix)
}

// =============================================================================
// PUSH TESTS
// =============================================================================

func TestPush_UploadsEveryEntity(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	a := newDevice(t, tr, newClock())
	require.NoError(t, a.store.WriteSettings(ctx, testSettings()))

	id := a.chat(t, "Hello")
	rec, err := a.assets.Put(ctx, []byte("0123456789"), "image/png", "shot.png")
	require.NoError(t, err)

	report, err := a.engine.Push(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Uploaded)
	require.Equal(t, 1, report.AssetsUploaded)

	require.Equal(t, []string{
		remote.AssetObject(rec.ID, "png"),
		remote.ChatObject(id),
		remote.ConfigObject,
	}, objectNames(t, tr))

	doc := remoteConfig(t, tr)
	require.Equal(t, ConfigVersion, doc.Version)
	require.Len(t, doc.Providers, 1)
	require.Equal(t, "be brief", doc.Preferences.SystemPrompt)
	require.Len(t, doc.Chats, 1)
	require.Equal(t, "Hello", doc.Chats[0].Title)
	require.Equal(t, 1, doc.Chats[0].MessageCount)

	h, _ := a.manager.Header(id)
	require.True(t, doc.Chats[0].LastModified.Equal(h.LastModified()))

	meta := a.store.ReadSyncMetadata(ctx)
	require.Equal(t, []string{id}, meta.SyncedIDs)
	require.Equal(t, []string{rec.ID}, meta.SyncedAssetIDs)
	require.Equal(t, int64(1), meta.LocalVersion)
	require.False(t, meta.LastSyncTime.IsZero())
}

func TestPush_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	a := newDevice(t, tr, newClock())
	a.chat(t, "one")
	a.chat(t, "two")
	_, err := a.assets.Put(ctx, []byte("bytes"), "text/plain", "a.txt")
	require.NoError(t, err)

	_, err = a.engine.Push(ctx)
	require.NoError(t, err)
	first := objectNames(t, tr)
	firstManifest := manifestIDs(remoteConfig(t, tr))

	report, err := a.engine.Push(ctx)
	require.NoError(t, err)
	require.Equal(t, Report{}, report, "nothing changed, nothing transferred")
	require.Equal(t, first, objectNames(t, tr))
	require.Equal(t, firstManifest, manifestIDs(remoteConfig(t, tr)))
}

func TestPush_UploadsOnlyChangedConversations(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	a := newDevice(t, tr, newClock())
	first := a.chat(t, "first")
	a.chat(t, "second")
	_, err := a.engine.Push(ctx)
	require.NoError(t, err)

	a.say(t, first, "more")
	report, err := a.engine.Push(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Uploaded)

	data, err := tr.Get(ctx, remote.ChatObject(first))
	require.NoError(t, err)
	var doc ChatDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Messages, 2)
	require.Equal(t, "more", doc.Messages[1].Content)
}

func TestPush_PartialFailureIsResumable(t *testing.T) {
	ctx := context.Background()
	dir := newDir(t)
	boom := errors.New("connection reset")
	tr := &flakyTransport{Transport: dir, failPut: map[string]error{}}
	a := newDevice(t, tr, newClock())

	bad := a.chat(t, "will fail")
	a.chat(t, "fine")
	tr.failPut[remote.ChatObject(bad)] = boom

	_, err := a.engine.Push(ctx)
	var stepError *StepError
	require.ErrorAs(t, err, &stepError)
	require.Equal(t, StepUploadChats, stepError.Step)
	require.ErrorIs(t, err, boom)

	_, err = dir.Get(ctx, remote.ConfigObject)
	require.ErrorIs(t, err, remote.ErrObjectNotFound, "manifest is not written after a failed upload")
	require.Empty(t, a.store.ReadSyncMetadata(ctx).SyncedIDs)

	status := a.engine.Status()
	require.False(t, status.Syncing)
	require.ErrorIs(t, status.LastErr, boom)
	require.True(t, status.LastSync.IsZero())

	tr.mu.Lock()
	delete(tr.failPut, remote.ChatObject(bad))
	tr.mu.Unlock()

	report, err := a.engine.Push(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Uploaded)
	require.Len(t, remoteConfig(t, dir).Chats, 2)
	require.NoError(t, a.engine.Status().LastErr)
}

// =============================================================================
// PULL TESTS
// =============================================================================

func TestPull_NoRemoteConfigIsNotAnError(t *testing.T) {
	b := newDevice(t, newDir(t), newClock())
	id := b.chat(t, "local only")

	report, err := b.engine.Pull(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{}, report)

	_, ok := b.manager.Header(id)
	require.True(t, ok)
}

func TestPull_ImportsConversationsSettingsAndAssets(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	clock := newClock()
	a := newDevice(t, tr, clock)
	b := newDevice(t, tr, clock)

	require.NoError(t, a.store.WriteSettings(ctx, testSettings()))
	folder, err := a.manager.CreateFolder(ctx, "Work")
	require.NoError(t, err)
	id := a.chat(t, "Hello from A")
	require.NoError(t, a.manager.MoveConversation(ctx, id, folder.ID))
	rec, err := a.assets.Put(ctx, []byte{0x89, 'P', 'N', 'G'}, "image/png", "x.png")
	require.NoError(t, err)
	_, err = a.engine.Push(ctx)
	require.NoError(t, err)

	report, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Downloaded)
	require.Equal(t, 1, report.AssetsDownloaded)

	h, ok := b.manager.Header(id)
	require.True(t, ok)
	require.Equal(t, "Hello from A", h.Title)
	require.Equal(t, folder.ID, h.FolderID)
	ah, _ := a.manager.Header(id)
	require.True(t, h.UpdatedAt.Equal(ah.UpdatedAt), "import keeps the remote lastModified")

	body := b.body(t, id)
	require.Len(t, body.Messages, 1)
	require.Equal(t, "Hello from A", body.Messages[0].Content)

	settings, ok := b.store.ReadSettings(ctx)
	require.True(t, ok)
	require.Equal(t, "be brief", settings.Preferences.SystemPrompt)
	require.Len(t, settings.Providers, 1)

	require.Len(t, b.manager.Folders(), 1)
	require.Equal(t, "Work", b.manager.Folders()[0].Name)

	got, err := b.assets.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "image/png", got.MIMEType)
	require.Equal(t, rec.Blob, got.Blob)

	// Pulling again transfers nothing and a push from B changes nothing
	report, err = b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, Report{}, report)
	report, err = b.engine.Push(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Uploaded)
}

func TestDeletionPropagatesBothWays(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	clock := newClock()
	a := newDevice(t, tr, clock)
	b := newDevice(t, tr, clock)

	gone := a.chat(t, "to delete")
	kept := a.chat(t, "to keep")
	_, err := a.engine.Push(ctx)
	require.NoError(t, err)
	_, err = b.engine.Pull(ctx)
	require.NoError(t, err)
	_, ok := b.manager.Header(gone)
	require.True(t, ok)

	require.NoError(t, a.manager.DeleteConversation(ctx, gone))
	report, err := a.engine.Push(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.RemoteDeleted)
	require.NotContains(t, objectNames(t, tr), remote.ChatObject(gone))
	require.Equal(t, []string{kept}, manifestIDs(remoteConfig(t, tr)))

	report, err = b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.LocalDeleted)
	_, ok = b.manager.Header(gone)
	require.False(t, ok)
	_, err = b.store.ReadBody(ctx, gone)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, ok = b.manager.Header(kept)
	require.True(t, ok)
}

func TestPull_KeepsConversationsNeverSynced(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	clock := newClock()
	a := newDevice(t, tr, clock)
	b := newDevice(t, tr, clock)

	fromA := a.chat(t, "from A")
	_, err := a.engine.Push(ctx)
	require.NoError(t, err)

	// B has never synced; the remote manifest does not know its chat
	fromB := b.chat(t, "from B")
	report, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Zero(t, report.LocalDeleted)
	_, ok := b.manager.Header(fromB)
	require.True(t, ok, "a conversation never synced must survive a pull")

	_, err = b.engine.Push(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{fromA, fromB}, manifestIDs(remoteConfig(t, tr)))

	// A pushes before pulling: B's chat is not A's to delete
	report, err = a.engine.Push(ctx)
	require.NoError(t, err)
	require.Zero(t, report.RemoteDeleted)
	require.ElementsMatch(t, []string{fromA, fromB}, manifestIDs(remoteConfig(t, tr)))

	report, err = a.engine.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Downloaded)
	_, ok = a.manager.Header(fromB)
	require.True(t, ok)
}

func TestSync_NewerCopyWinsPerConversation(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	clock := newClock()
	a := newDevice(t, tr, clock)
	b := newDevice(t, tr, clock)

	id := a.chat(t, "shared")
	_, err := a.engine.Sync(ctx)
	require.NoError(t, err)
	_, err = b.engine.Sync(ctx)
	require.NoError(t, err)

	// A edits and syncs: B takes A's copy
	a.say(t, id, "edit from A")
	_, err = a.engine.Sync(ctx)
	require.NoError(t, err)
	report, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Downloaded)
	require.Len(t, b.body(t, id).Messages, 2)

	// B edits later; pulling does not overwrite the newer local copy
	b.say(t, id, "edit from B")
	report, err = b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Downloaded)
	require.Len(t, b.body(t, id).Messages, 3)

	_, err = b.engine.Push(ctx)
	require.NoError(t, err)

	// A's copy is now older than the remote one and is not pushed over it
	report, err = a.engine.Push(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Uploaded)
	require.Equal(t, 1, report.Skipped)

	report, err = a.engine.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Downloaded)
	msgs := a.body(t, id).Messages
	require.Len(t, msgs, 3)
	require.Equal(t, "edit from B", msgs[2].Content)
}

func TestPull_SkipsManifestEntriesNotNewerThanLocal(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	clock := newClock()
	a := newDevice(t, tr, clock)
	b := newDevice(t, tr, clock)

	id := a.chat(t, "shared")
	_, err := a.engine.Push(ctx)
	require.NoError(t, err)
	report, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Downloaded)

	// Same timestamp on both sides: nothing to import
	report, err = b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Downloaded)

	// A local edit newer than the manifest survives a pull
	b.say(t, id, "local only")
	report, err = b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Downloaded)
	require.Len(t, b.body(t, id).Messages, 2)
}

func TestPush_KeepsRemoteAssetsNeverSeen(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	clock := newClock()
	a := newDevice(t, tr, clock)

	data := []byte("uploaded by another device")
	name := remote.AssetObject(assets.HashBytes(data), "txt")
	require.NoError(t, tr.Put(ctx, name, data, "text/plain"))

	report, err := a.engine.Push(ctx)
	require.NoError(t, err)
	require.Zero(t, report.AssetsRemoteDeleted)
	require.Contains(t, objectNames(t, tr), name)
}

func TestAssetDeletionPropagates(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	clock := newClock()
	a := newDevice(t, tr, clock)

	rec, err := a.assets.Put(ctx, []byte("attachment"), "text/plain", "notes.txt")
	require.NoError(t, err)
	_, err = a.engine.Push(ctx)
	require.NoError(t, err)
	require.Contains(t, objectNames(t, tr), remote.AssetObject(rec.ID, "txt"))

	require.NoError(t, a.assets.Delete(ctx, rec.ID))
	report, err := a.engine.Push(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.AssetsRemoteDeleted)
	require.NotContains(t, objectNames(t, tr), remote.AssetObject(rec.ID, "txt"))
}

func TestPull_SkipsCorruptRemoteObjects(t *testing.T) {
	ctx := context.Background()
	tr := newDir(t)
	clock := newClock()
	a := newDevice(t, tr, clock)
	b := newDevice(t, tr, clock)

	broken := a.chat(t, "broken")
	good := a.chat(t, "good")
	_, err := a.engine.Push(ctx)
	require.NoError(t, err)
	require.NoError(t, tr.Put(ctx, remote.ChatObject(broken), []byte("{not json"), "application/json"))
	require.NoError(t, tr.Put(ctx, remote.AssetObject("deadbeef", "png"), []byte("mismatch"), "image/png"))

	report, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Downloaded)
	require.Zero(t, report.AssetsDownloaded)
	_, ok := b.manager.Header(good)
	require.True(t, ok)
	_, ok = b.manager.Header(broken)
	require.False(t, ok)
}

// =============================================================================
// ENGINE STATE TESTS
// =============================================================================

func TestEngine_OneSyncAtATime(t *testing.T) {
	ctx := context.Background()
	tr := &flakyTransport{
		Transport: newDir(t),
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	a := newDevice(t, tr, newClock())

	done := make(chan error, 1)
	go func() {
		_, err := a.engine.Push(ctx)
		done <- err
	}()
	<-tr.entered

	status := a.engine.Status()
	require.True(t, status.Syncing)
	require.Equal(t, DirectionPush, status.Direction)

	_, err := a.engine.Pull(ctx)
	require.ErrorIs(t, err, ErrSyncInProgress)

	tr.release <- struct{}{}
	require.NoError(t, <-done)

	status = a.engine.Status()
	require.False(t, status.Syncing)
	require.Equal(t, DirectionNone, status.Direction)
	require.Equal(t, DirectionPush, status.LastDirection)
	require.False(t, status.LastSync.IsZero())
}

func TestEngine_ObserverSeesEachDirection(t *testing.T) {
	obs := &recordingSyncObserver{}
	tr := newDir(t)
	a := newDevice(t, tr, newClock())
	a.engine.observer = obs
	a.chat(t, "hi")

	_, err := a.engine.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Direction{DirectionPush, DirectionPull}, obs.directions)
}

type recordingSyncObserver struct {
	directions []Direction
}

func (o *recordingSyncObserver) SyncFinished(d Direction, _ Report, _ error, _ time.Duration) {
	o.directions = append(o.directions, d)
}

func TestDirection_String(t *testing.T) {
	tests := map[Direction]string{
		DirectionNone: "none",
		DirectionPush: "push",
		DirectionPull: "pull",
	}
	for d, want := range tests {
		if got := d.String(); got != want {
			t.Errorf("Direction(%d).String() = %q, want %q", d, got, want)
		}
	}
}
