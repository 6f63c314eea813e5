// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ckt1031/simple-chat/internal/stream"
)

// =============================================================================
// USAGE TRACKER
// =============================================================================

// UsageTracker keeps a per-day history of model responses on disk. It
// implements stream.Observer.
type UsageTracker struct {
	mu      sync.Mutex
	storage *UsageStorage
	logger  zerolog.Logger
	now     func() time.Time

	today *DailyUsage
}

// DailyUsage is one UTC day of responses.
type DailyUsage struct {
	Date string `json:"date"`

	Generations int `json:"generations"`
	Completed   int `json:"completed"`
	Aborted     int `json:"aborted"`
	Failed      int `json:"failed"`
	Events      int `json:"events"`

	TotalDuration time.Duration  `json:"total_duration"`
	ByProvider    map[string]int `json:"by_provider"`
}

func newDailyUsage(date string) *DailyUsage {
	return &DailyUsage{Date: date, ByProvider: make(map[string]int)}
}

func (d *DailyUsage) clone() *DailyUsage {
	c := *d
	c.ByProvider = make(map[string]int, len(d.ByProvider))
	for k, v := range d.ByProvider {
		c.ByProvider[k] = v
	}
	return &c
}

// UsageTrends aggregates usage over a number of days.
type UsageTrends struct {
	Days          int            `json:"days"`
	Generations   int            `json:"generations"`
	Failed        int            `json:"failed"`
	TotalDuration time.Duration  `json:"total_duration"`
	ByProvider    map[string]int `json:"by_provider"`
	Daily         []DailyUsage   `json:"daily"`
}

// NewUsageTracker creates a tracker storing files in dir.
func NewUsageTracker(dir string, logger zerolog.Logger) (*UsageTracker, error) {
	storage, err := NewUsageStorage(dir)
	if err != nil {
		return nil, err
	}
	return &UsageTracker{
		storage: storage,
		logger:  logger.With().Str("component", "usage").Logger(),
		now:     time.Now,
	}, nil
}

// =============================================================================
// RECORDING
// =============================================================================

// GenerationFinished implements stream.Observer. The day's record is saved
// after every response; a failed save is logged.
func (ut *UsageTracker) GenerationFinished(providerID string, status stream.Status, events int, elapsed time.Duration) {
	ut.mu.Lock()
	defer ut.mu.Unlock()

	day, err := ut.currentLocked()
	if err != nil {
		ut.logger.Warn().Err(err).Msg("failed to load usage record")
		return
	}

	day.Generations++
	switch status {
	case stream.StatusCompleted:
		day.Completed++
	case stream.StatusAborted:
		day.Aborted++
	case stream.StatusFailed:
		day.Failed++
	}
	day.Events += events
	day.TotalDuration += elapsed
	if providerID != "" {
		day.ByProvider[providerID]++
	}

	if err := ut.storage.Save(day); err != nil {
		ut.logger.Warn().Err(err).Str("date", day.Date).Msg("failed to save usage record")
	}
}

// currentLocked returns today's record, loading it when the day changed.
func (ut *UsageTracker) currentLocked() (*DailyUsage, error) {
	date := ut.now().UTC().Format(dateLayout)
	if ut.today != nil && ut.today.Date == date {
		return ut.today, nil
	}
	day, err := ut.storage.Load(date)
	if err != nil {
		return nil, err
	}
	ut.today = day
	return day, nil
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// Today returns a copy of today's usage.
func (ut *UsageTracker) Today() (*DailyUsage, error) {
	ut.mu.Lock()
	defer ut.mu.Unlock()

	day, err := ut.currentLocked()
	if err != nil {
		return nil, err
	}
	return day.clone(), nil
}

// Trends aggregates the last days days, today included.
func (ut *UsageTracker) Trends(days int) (*UsageTrends, error) {
	if days <= 0 {
		days = 1
	}
	to := ut.now()
	from := to.AddDate(0, 0, -(days - 1))

	ut.mu.Lock()
	defer ut.mu.Unlock()

	dates, err := ut.storage.List(from, to)
	if err != nil {
		return nil, err
	}

	trends := &UsageTrends{
		Days:       days,
		ByProvider: make(map[string]int),
		Daily:      make([]DailyUsage, 0, len(dates)),
	}
	for _, date := range dates {
		day, err := ut.storage.Load(date)
		if err != nil {
			ut.logger.Warn().Err(err).Str("date", date).Msg("skipping unreadable usage record")
			continue
		}
		trends.Generations += day.Generations
		trends.Failed += day.Failed
		trends.TotalDuration += day.TotalDuration
		for p, n := range day.ByProvider {
			trends.ByProvider[p] += n
		}
		trends.Daily = append(trends.Daily, *day)
	}
	return trends, nil
}

// Prune removes records older than keep days.
func (ut *UsageTracker) Prune(keep int) error {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	return ut.storage.DeleteBefore(ut.now().AddDate(0, 0, -keep))
}
