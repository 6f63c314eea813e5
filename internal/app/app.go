// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ckt1031/simple-chat/internal/assets"
	"github.com/ckt1031/simple-chat/internal/attach"
	"github.com/ckt1031/simple-chat/internal/config"
	"github.com/ckt1031/simple-chat/internal/conversation"
	"github.com/ckt1031/simple-chat/internal/export"
	"github.com/ckt1031/simple-chat/internal/kv"
	"github.com/ckt1031/simple-chat/internal/model"
	"github.com/ckt1031/simple-chat/internal/reconcile"
	"github.com/ckt1031/simple-chat/internal/remote"
	"github.com/ckt1031/simple-chat/internal/storage"
	"github.com/ckt1031/simple-chat/internal/stream"
	"github.com/ckt1031/simple-chat/internal/telemetry"
)

// ErrSyncDisabled is returned by sync operations when no remote is
// configured.
var ErrSyncDisabled = errors.New("sync is not configured")

// Options are the process-level inputs that do not come from the config
// file.
type Options struct {
	Logger zerolog.Logger

	// Registry receives the metrics. Nil uses a fresh registry.
	Registry *prometheus.Registry

	// UsageDir holds the daily usage records. Empty means a "usage"
	// directory next to the database.
	UsageDir string
}

// App is the process-wide service context. Fields are set by New and never
// reassigned; Sync and Scheduler are nil when no remote is configured.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	DB            kv.Store
	Store         *storage.ConversationStore
	Assets        *assets.Store
	Conversations *conversation.Manager
	Attachments   *attach.Preprocessor
	Generator     *stream.Generator
	Backup        *export.Backup

	Remote    remote.Transport
	Sync      *reconcile.Engine
	Scheduler *reconcile.Scheduler

	Registry *prometheus.Registry
	Metrics  *telemetry.Metrics
	Usage    *telemetry.UsageTracker

	backends    *backends
	unsubscribe func()
}

// New builds every service in dependency order:
//
//  1. key/value database
//  2. blob store and durable conversation store
//  3. settings seeded from the config file if the store has none
//  4. conversation state machine, hydrated from the durable store
//  5. telemetry, attachments and the generator
//  6. remote transport, reconciliation engine and scheduler
//  7. backup
//
// Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: opts.Registry,
		backends: newBackends(logger),
	}
	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
	}

	db, err := kv.Open(kv.Backend(cfg.Storage.Backend), cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = db

	a.Store = storage.NewConversationStore(db, logger)
	var assetOpts []assets.Option
	if cfg.Storage.ObjectURLDir != "" {
		assetOpts = append(assetOpts, assets.WithURLDir(cfg.Storage.ObjectURLDir))
	}
	a.Assets = assets.NewStore(db, logger, assetOpts...)

	if _, ok := a.Store.ReadSettings(ctx); !ok {
		if err := a.Store.WriteSettings(ctx, cfg.SeedSettings()); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to seed settings: %w", err)
		}
		logger.Info().Int("providers", len(cfg.Providers)).Msg("seeded settings from config")
	}

	a.Conversations = conversation.NewManager(a.Store, logger)
	if err := a.Conversations.Hydrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	a.Metrics = telemetry.NewMetrics(a.Registry)
	usageDir := opts.UsageDir
	if usageDir == "" {
		usageDir = filepath.Join(filepath.Dir(cfg.Storage.Path), "usage")
	}
	if a.Usage, err = telemetry.NewUsageTracker(usageDir, logger); err != nil {
		db.Close()
		return nil, err
	}

	a.Attachments = attach.New(attach.Config{
		Assets:     a.Assets,
		References: a.Conversations,
		Logger:     logger,
	})
	a.Generator = stream.NewGenerator(stream.GeneratorConfig{
		Conversations: a.Conversations,
		Backends:      a.backends,
		Settings:      func() model.Settings { return a.Settings(context.Background()) },
		Attachments:   a.Attachments,
		Observer:      telemetry.GenerationObservers{a.Metrics, a.Usage},
		Timeout:       cfg.Generation.RequestTimeout,
		Logger:        logger,
	})

	if err := a.initSync(); err != nil {
		db.Close()
		return nil, err
	}

	a.Backup = export.NewBackup(a.Store, a.Assets, a.Conversations, logger)
	return a, nil
}

// initSync builds the remote side when one is configured.
func (a *App) initSync() error {
	rc := a.Config.Remote
	switch rc.Kind {
	case "", "none":
		return nil
	case "dir":
		d, err := remote.NewDir(rc.Dir)
		if err != nil {
			return err
		}
		a.Remote = d
	case "http":
		var token remote.TokenSource
		if rc.Token != "" {
			token = remote.StaticToken(rc.Token)
		}
		h, err := remote.NewHTTP(remote.HTTPConfig{
			BaseURL:           rc.BaseURL,
			Folder:            rc.Folder,
			Token:             token,
			RequestsPerSecond: rc.RequestsPerSecond,
			Logger:            a.Logger,
		})
		if err != nil {
			return err
		}
		a.Remote = h
	default:
		return fmt.Errorf("unknown remote kind %q", rc.Kind)
	}

	a.Sync = reconcile.NewEngine(reconcile.Config{
		Transport:     a.Remote,
		Conversations: a.Conversations,
		Store:         a.Store,
		Assets:        a.Assets,
		Observer:      a.Metrics,
		Concurrency:   rc.Concurrency,
		Logger:        a.Logger,
	})
	a.Scheduler = reconcile.NewScheduler(a.Sync, reconcile.SchedulerConfig{
		Interval: rc.AutoSyncInterval,
		Logger:   a.Logger,
	})
	a.unsubscribe = a.Conversations.Subscribe(func(c conversation.Change) {
		switch c.Kind {
		case conversation.ChangeConversations, conversation.ChangeFolders, conversation.ChangeMessages:
			a.Scheduler.MarkDirty()
		}
	})
	return nil
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings returns the stored settings. A missing record yields the seed
// settings from the config file.
func (a *App) Settings(ctx context.Context) model.Settings {
	s, ok := a.Store.ReadSettings(ctx)
	if !ok {
		return a.Config.SeedSettings()
	}
	return s
}

// SaveSettings replaces the stored settings and marks them for sync.
func (a *App) SaveSettings(ctx context.Context, s model.Settings) error {
	if err := a.Store.WriteSettings(ctx, s); err != nil {
		return err
	}
	if a.Scheduler != nil {
		a.Scheduler.MarkDirty()
	}
	return nil
}

// ListModels asks provider p which models it offers.
func (a *App) ListModels(ctx context.Context, p model.Provider) ([]string, error) {
	return a.backends.ListModels(ctx, p)
}

// =============================================================================
// SYNC
// =============================================================================

// AutoSyncEnabled reports whether RunAutoSync would do anything.
func (a *App) AutoSyncEnabled(ctx context.Context) bool {
	return a.Scheduler != nil &&
		a.Config.Remote.AutoSyncInterval > 0 &&
		a.Settings(ctx).Preferences.AutoSync
}

// RunAutoSync runs the sync scheduler until ctx is done. It returns
// immediately when auto sync is off.
func (a *App) RunAutoSync(ctx context.Context) {
	if !a.AutoSyncEnabled(ctx) {
		a.Logger.Debug().Msg("auto sync disabled")
		return
	}
	a.Logger.Info().Dur("interval", a.Config.Remote.AutoSyncInterval).Msg("auto sync started")
	a.Scheduler.Run(ctx)
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Close stops running generations, waits for pending writes and closes the
// database.
func (a *App) Close() error {
	a.Generator.StopAll()
	a.Conversations.Flush()
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	return a.DB.Close()
}
