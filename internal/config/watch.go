// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDebounce coalesces the burst of events an editor save produces.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watch reloads the config at path whenever it changes and passes the result
// to fn. A config that fails to load is passed as an error; the caller keeps
// its previous config. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors
// which replace the file on save are seen.
func Watch(ctx context.Context, path string, logger zerolog.Logger, fn func(*Config, error)) error {
	return watch(ctx, path, DefaultWatchDebounce, logger, fn)
}

func watch(ctx context.Context, path string, debounce time.Duration, logger zerolog.Logger, fn func(*Config, error)) error {
	path = filepath.Clean(path)
	logger = logger.With().Str("component", "config-watch").Str("path", path).Logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	// Debounce timer; starts stopped
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watch error")

		case <-timer.C:
			cfg, err := Load(path)
			if err != nil {
				logger.Warn().Err(err).Msg("config reload failed")
			} else {
				logger.Info().Msg("config reloaded")
			}
			fn(cfg, err)
		}
	}
}
