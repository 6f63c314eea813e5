// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/remote"
)

// ErrSyncInProgress is returned when a sync is started while another runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// DefaultConcurrency is the number of objects transferred at once.
const DefaultConcurrency = 4

// Sync steps, as reported by StepError.
const (
	StepReadRemote     = "read remote"
	StepUploadChats    = "upload chats"
	StepDeleteChats    = "delete remote chats"
	StepUploadAssets   = "upload assets"
	StepDeleteAssets   = "delete remote assets"
	StepWriteConfig    = "write config"
	StepApplyConfig    = "apply config"
	StepDeleteLocal    = "delete local chats"
	StepDownloadChats  = "download chats"
	StepImportChats    = "import chats"
	StepDownloadAssets = "download assets"
	StepSaveMetadata   = "save sync metadata"
)

// StepError is a sync failure in one step. Earlier steps stay applied.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("sync failed during %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Conversations is the state machine sync reads from and imports into.
type Conversations interface {
	Flush()
	Headers() []model.ConversationHeader
	IsLoading(id string) bool
	ImportConversation(ctx context.Context, h model.ConversationHeader, body *model.ConversationBody) error
	DeleteConversation(ctx context.Context, id string) error
	Reload(ctx context.Context) error
}

// Store holds bodies, folders, settings and sync metadata.
type Store interface {
	ReadBody(ctx context.Context, id string) (*model.ConversationBody, error)
	ReadFolders(ctx context.Context) *model.FolderIndex
	UpsertFolder(ctx context.Context, f model.ConversationFolder) error
	ReadSettings(ctx context.Context) (model.Settings, bool)
	WriteSettings(ctx context.Context, settings model.Settings) error
	ReadSyncMetadata(ctx context.Context) model.SyncMetadata
	WriteSyncMetadata(ctx context.Context, meta model.SyncMetadata) error
}

// Assets is the local blob store.
type Assets interface {
	IDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, id string) (*model.AssetRecord, error)
	Restore(ctx context.Context, rec *model.AssetRecord) error
}

// Observer is told about every finished sync.
type Observer interface {
	SyncFinished(direction Direction, report Report, err error, elapsed time.Duration)
}

// =============================================================================
// STATUS
// =============================================================================

// Direction is the direction of a sync.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionPush
	DirectionPull
)

// String returns "push", "pull" or "none".
func (d Direction) String() string {
	switch d {
	case DirectionPush:
		return "push"
	case DirectionPull:
		return "pull"
	default:
		return "none"
	}
}

// Status is a snapshot of the engine. Syncing is false in the Idle state.
type Status struct {
	Syncing       bool
	Direction     Direction
	LastSync      time.Time
	LastDirection Direction
	LastErr       error
}

// Report counts what a sync did.
type Report struct {
	Uploaded            int
	RemoteDeleted       int
	AssetsUploaded      int
	AssetsRemoteDeleted int

	Downloaded       int
	LocalDeleted     int
	AssetsDownloaded int

	// Skipped counts conversations left alone because the other side was
	// newer or they were generating.
	Skipped int
}

func (r *Report) add(o Report) {
	r.Uploaded += o.Uploaded
	r.RemoteDeleted += o.RemoteDeleted
	r.AssetsUploaded += o.AssetsUploaded
	r.AssetsRemoteDeleted += o.AssetsRemoteDeleted
	r.Downloaded += o.Downloaded
	r.LocalDeleted += o.LocalDeleted
	r.AssetsDownloaded += o.AssetsDownloaded
	r.Skipped += o.Skipped
}

// =============================================================================
// ENGINE
// =============================================================================

// Config configures an Engine.
type Config struct {
	Transport     remote.Transport
	Conversations Conversations
	Store         Store
	Assets        Assets
	Observer      Observer

	// Concurrency bounds parallel transfers (default DefaultConcurrency).
	Concurrency int

	Logger zerolog.Logger
	Now    func() time.Time
}

// Engine reconciles local state with a remote folder. It runs one sync at a
// time and is safe for concurrent use.
type Engine struct {
	transport     remote.Transport
	conversations Conversations
	store         Store
	assets        Assets
	observer      Observer
	concurrency   int
	logger        zerolog.Logger
	now           func() time.Time

	mu     sync.Mutex
	status Status
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = model.Now
	}
	return &Engine{
		transport:     cfg.Transport,
		conversations: cfg.Conversations,
		store:         cfg.Store,
		assets:        cfg.Assets,
		observer:      cfg.Observer,
		concurrency:   cfg.Concurrency,
		logger:        cfg.Logger.With().Str("component", "reconcile").Logger(),
		now:           cfg.Now,
	}
}

// Status returns the current state and the outcome of the last sync.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Push uploads local changes and propagates local deletions.
func (e *Engine) Push(ctx context.Context) (Report, error) {
	return e.run(ctx, DirectionPush)
}

// Pull downloads remote changes and propagates remote deletions.
func (e *Engine) Pull(ctx context.Context) (Report, error) {
	return e.run(ctx, DirectionPull)
}

// Sync pushes, then pulls. The pull is skipped if the push fails.
func (e *Engine) Sync(ctx context.Context) (Report, error) {
	return e.run(ctx, DirectionPush, DirectionPull)
}

func (e *Engine) run(ctx context.Context, directions ...Direction) (Report, error) {
	e.mu.Lock()
	if e.status.Syncing {
		e.mu.Unlock()
		return Report{}, ErrSyncInProgress
	}
	e.status.Syncing = true
	e.mu.Unlock()

	var total Report
	var err error
	last := DirectionNone
	for _, dir := range directions {
		last = dir
		e.mu.Lock()
		e.status.Direction = dir
		e.mu.Unlock()

		start := time.Now()
		e.logger.Info().Str("direction", dir.String()).Msg("sync started")

		var r Report
		if dir == DirectionPush {
			err = e.push(ctx, &r)
		} else {
			err = e.pull(ctx, &r)
		}
		total.add(r)
		elapsed := time.Since(start)

		var ev *zerolog.Event
		if err != nil {
			ev = e.logger.Warn().Err(err)
		} else {
			ev = e.logger.Info()
		}
		ev.Str("direction", dir.String()).
			Int("uploaded", r.Uploaded).
			Int("downloaded", r.Downloaded).
			Int("remote_deleted", r.RemoteDeleted).
			Int("local_deleted", r.LocalDeleted).
			Int("assets_uploaded", r.AssetsUploaded).
			Int("assets_downloaded", r.AssetsDownloaded).
			Dur("elapsed", elapsed).
			Msg("sync finished")

		if e.observer != nil {
			e.observer.SyncFinished(dir, r, err, elapsed)
		}
		if err != nil {
			break
		}
	}

	e.mu.Lock()
	e.status.Syncing = false
	e.status.Direction = DirectionNone
	e.status.LastDirection = last
	e.status.LastErr = err
	if err == nil {
		e.status.LastSync = e.now()
	}
	e.mu.Unlock()
	return total, err
}

// =============================================================================
// HELPERS
// =============================================================================

// readConfig fetches the remote config object. A missing object returns
// nil, nil.
func (e *Engine) readConfig(ctx context.Context) (*ConfigDocument, error) {
	data, err := e.transport.Get(ctx, remote.ConfigObject)
	if errors.Is(err, remote.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc ConfigDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", remote.ConfigObject, err)
	}
	if doc.Version > ConfigVersion {
		e.logger.Warn().Int("version", doc.Version).Msg("remote config is newer than this client")
	}
	return &doc, nil
}

// remoteObjects lists the remote folder and splits it into conversation ids
// and asset object names by asset id.
func (e *Engine) remoteObjects(ctx context.Context) (chats map[string]bool, assets map[string]string, err error) {
	objects, err := e.transport.List(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	chats = make(map[string]bool)
	assets = make(map[string]string)
	for _, o := range objects {
		if id, ok := remote.ParseChatObject(o.Name); ok {
			chats[id] = true
			continue
		}
		if id, _, ok := remote.ParseAssetObject(o.Name); ok {
			assets[id] = o.Name
		}
	}
	return chats, assets, nil
}

// parallel runs fn for 0..n-1 with bounded concurrency and returns the
// first error. The context passed to fn is cancelled after a failure.
func (e *Engine) parallel(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error { return fn(gctx, i) })
	}
	return g.Wait()
}

func (e *Engine) saveMetadata(ctx context.Context, meta model.SyncMetadata) error {
	meta.RemoteFileID = remote.ConfigObject
	meta.LastSyncTime = e.now()
	return stepErr(StepSaveMetadata, e.store.WriteSyncMetadata(ctx, meta))
}
