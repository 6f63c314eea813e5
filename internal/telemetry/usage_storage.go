// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ckt1031/simple-chat/internal/util"
)

// dateLayout names usage files, one per UTC day.
const dateLayout = "2006-01-02"

// =============================================================================
// USAGE STORAGE
// =============================================================================

// UsageStorage persists daily usage records as JSON files.
type UsageStorage struct {
	dir string
}

// NewUsageStorage creates the storage directory if needed.
func NewUsageStorage(dir string) (*UsageStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &UsageStorage{dir: dir}, nil
}

// Save writes one day's usage.
func (us *UsageStorage) Save(day *DailyUsage) error {
	if day == nil {
		return nil
	}
	data, err := json.MarshalIndent(day, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(filepath.Join(us.dir, day.Date+".json"), data, 0o600)
}

// Load reads one day's usage. A day with no file returns an empty record.
func (us *UsageStorage) Load(date string) (*DailyUsage, error) {
	data, err := os.ReadFile(filepath.Join(us.dir, date+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return newDailyUsage(date), nil
	}
	if err != nil {
		return nil, err
	}
	day := newDailyUsage(date)
	if err := json.Unmarshal(data, day); err != nil {
		return nil, err
	}
	if day.ByProvider == nil {
		day.ByProvider = make(map[string]int)
	}
	return day, nil
}

// List returns the stored dates within [from, to], oldest first.
func (us *UsageStorage) List(from, to time.Time) ([]string, error) {
	entries, err := os.ReadDir(us.dir)
	if err != nil {
		return nil, err
	}
	from = startOfDay(from)

	var dates []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		date := strings.TrimSuffix(entry.Name(), ".json")
		day, err := time.Parse(dateLayout, date)
		if err != nil {
			continue // Skip invalid filenames
		}
		if day.Before(from) || day.After(to) {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// DeleteBefore removes usage files for days before the given time.
func (us *UsageStorage) DeleteBefore(before time.Time) error {
	dates, err := us.List(time.Time{}, startOfDay(before).Add(-time.Nanosecond))
	if err != nil {
		return err
	}
	for _, date := range dates {
		if err := os.Remove(filepath.Join(us.dir, date+".json")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
