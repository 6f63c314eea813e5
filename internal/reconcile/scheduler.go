// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// SCHEDULER
// =============================================================================

// Syncer runs one push-then-pull cycle.
type Syncer interface {
	Sync(ctx context.Context) (Report, error)
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// Interval is the minimum time between automatic syncs (default: 5 minutes)
	Interval time.Duration

	// TickInterval is how often Run checks whether to sync (default: 1 second)
	TickInterval time.Duration

	Logger zerolog.Logger
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:     5 * time.Minute,
		TickInterval: time.Second,
	}
}

// Scheduler runs automatic syncs while there are unsynced local changes.
// After a failed sync it pauses until Resume is called, so failures are
// never retried in a loop.
type Scheduler struct {
	mu sync.Mutex

	syncer       Syncer
	interval     time.Duration
	tickInterval time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	// Change tracking
	dirty bool
	seq   uint64

	lastRun time.Time
	lastErr error
	paused  bool

	onError func(error)
}

// NewScheduler creates a scheduler for syncer. It starts dirty so the first
// check syncs.
func NewScheduler(syncer Syncer, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	return &Scheduler{
		syncer:       syncer,
		interval:     cfg.Interval,
		tickInterval: cfg.TickInterval,
		logger:       cfg.Logger.With().Str("component", "sync-scheduler").Logger(),
		now:          time.Now,
		dirty:        true,
	}
}

// MarkDirty records a local change that has not been synced.
func (s *Scheduler) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	s.seq++
}

// IsDirty reports whether there are unsynced changes.
func (s *Scheduler) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Resume re-enables automatic syncs after a failure.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.lastErr = nil
}

// SetErrorCallback sets the function called when an automatic sync fails.
func (s *Scheduler) SetErrorCallback(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// ShouldSync reports whether Check would sync now.
func (s *Scheduler) ShouldSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldSyncLocked()
}

func (s *Scheduler) shouldSyncLocked() bool {
	if s.paused || !s.dirty {
		return false
	}
	return s.lastRun.IsZero() || s.now().Sub(s.lastRun) >= s.interval
}

// Check syncs if there are changes and the interval has passed. It reports
// whether a sync ran.
func (s *Scheduler) Check(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if !s.shouldSyncLocked() {
		s.mu.Unlock()
		return false, nil
	}
	startSeq := s.seq
	s.mu.Unlock()

	_, err := s.syncer.Sync(ctx)
	if errors.Is(err, ErrSyncInProgress) {
		// A manual sync is running; try again next tick
		return false, nil
	}

	s.mu.Lock()
	s.lastRun = s.now()
	s.lastErr = err
	// Changes made while syncing keep the scheduler dirty
	if err == nil && s.seq == startSeq {
		s.dirty = false
	}
	if err != nil && ctx.Err() == nil {
		s.paused = true
	}
	onError := s.onError
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("automatic sync failed, pausing until resumed")
		if onError != nil {
			onError(err)
		}
	}
	return true, err
}

// Run checks every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// =============================================================================
// SCHEDULER STATUS
// =============================================================================

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	Dirty   bool
	Paused  bool
	LastRun time.Time
	NextRun time.Time
	LastErr error
}

// Status returns the current scheduler status. NextRun is zero when no
// automatic sync is pending.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{
		Dirty:   s.dirty,
		Paused:  s.paused,
		LastRun: s.lastRun,
		LastErr: s.lastErr,
	}
	if s.dirty && !s.paused {
		st.NextRun = s.lastRun.Add(s.interval)
		if s.lastRun.IsZero() {
			st.NextRun = s.now()
		}
	}
	return st
}
