// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ckt1031/simple-chat/internal/reconcile"
	"github.com/ckt1031/simple-chat/internal/stream"
)

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestMetrics_GenerationFinished(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.GenerationFinished("openai", stream.StatusCompleted, 12, 2*time.Second)
	m.GenerationFinished("openai", stream.StatusFailed, 0, time.Second)
	m.GenerationFinished("", stream.StatusAborted, 3, time.Second)

	if got := testutil.ToFloat64(m.generations.WithLabelValues("openai", "completed")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.generations.WithLabelValues("openai", "failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.generations.WithLabelValues("none", "aborted")); got != 1 {
		t.Errorf("aborted without provider = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.streamEvents.WithLabelValues("openai")); got != 12 {
		t.Errorf("events = %v, want 12", got)
	}
	if n := testutil.CollectAndCount(m.generationDuration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestMetrics_SyncFinished(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SyncFinished(reconcile.DirectionPush, reconcile.Report{Uploaded: 3, AssetsUploaded: 1}, nil, time.Second)
	m.SyncFinished(reconcile.DirectionPull, reconcile.Report{}, errors.New("offline"), time.Second)

	if got := testutil.ToFloat64(m.syncRuns.WithLabelValues("push", "success")); got != 1 {
		t.Errorf("push success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.syncRuns.WithLabelValues("pull", "error")); got != 1 {
		t.Errorf("pull error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.syncObjects.WithLabelValues("push", "uploaded")); got != 3 {
		t.Errorf("uploaded = %v, want 3", got)
	}
	// Zero counts create no series
	if n := testutil.CollectAndCount(m.syncObjects); n != 2 {
		t.Errorf("object series = %d, want 2", n)
	}
}

func TestMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	require.Panics(t, func() { NewMetrics(reg) })
}

func TestGenerationObservers_FansOut(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	obs := GenerationObservers{a, nil, b}

	obs.GenerationFinished("ollama", stream.StatusCompleted, 1, time.Second)

	for _, m := range []*Metrics{a, b} {
		if got := testutil.ToFloat64(m.generations.WithLabelValues("ollama", "completed")); got != 1 {
			t.Errorf("completed = %v, want 1", got)
		}
	}
}

// =============================================================================
// USAGE TESTS
// =============================================================================

func newTestTracker(t *testing.T, now *time.Time) (*UsageTracker, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "usage")
	ut, err := NewUsageTracker(dir, zerolog.Nop())
	require.NoError(t, err)
	ut.now = func() time.Time { return *now }
	return ut, dir
}

func TestUsageTracker_RecordsAndPersists(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	ut, dir := newTestTracker(t, &now)

	ut.GenerationFinished("openai", stream.StatusCompleted, 10, 3*time.Second)
	ut.GenerationFinished("openai", stream.StatusFailed, 0, time.Second)
	ut.GenerationFinished("ollama", stream.StatusAborted, 4, time.Second)

	day, err := ut.Today()
	require.NoError(t, err)
	require.Equal(t, "2025-04-10", day.Date)
	require.Equal(t, 3, day.Generations)
	require.Equal(t, 1, day.Completed)
	require.Equal(t, 1, day.Failed)
	require.Equal(t, 1, day.Aborted)
	require.Equal(t, 14, day.Events)
	require.Equal(t, 5*time.Second, day.TotalDuration)
	require.Equal(t, map[string]int{"openai": 2, "ollama": 1}, day.ByProvider)

	// A fresh tracker sees the saved day
	reopened, err := NewUsageTracker(dir, zerolog.Nop())
	require.NoError(t, err)
	reopened.now = ut.now
	again, err := reopened.Today()
	require.NoError(t, err)
	require.Equal(t, day, again)
}

func TestUsageTracker_TodayIsACopy(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	ut, _ := newTestTracker(t, &now)
	ut.GenerationFinished("openai", stream.StatusCompleted, 1, time.Second)

	day, err := ut.Today()
	require.NoError(t, err)
	day.ByProvider["openai"] = 99

	fresh, err := ut.Today()
	require.NoError(t, err)
	require.Equal(t, 1, fresh.ByProvider["openai"])
}

func TestUsageTracker_TrendsAndPrune(t *testing.T) {
	now := time.Date(2025, 4, 8, 23, 0, 0, 0, time.UTC)
	ut, dir := newTestTracker(t, &now)

	ut.GenerationFinished("openai", stream.StatusCompleted, 1, time.Second)
	now = now.Add(2 * time.Hour) // 2025-04-09
	ut.GenerationFinished("openai", stream.StatusFailed, 1, time.Second)
	now = now.AddDate(0, 0, 1) // 2025-04-10
	ut.GenerationFinished("deepseek", stream.StatusCompleted, 1, time.Second)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o600))

	trends, err := ut.Trends(2)
	require.NoError(t, err)
	require.Len(t, trends.Daily, 2)
	require.Equal(t, "2025-04-09", trends.Daily[0].Date)
	require.Equal(t, "2025-04-10", trends.Daily[1].Date)
	require.Equal(t, 2, trends.Generations)
	require.Equal(t, 1, trends.Failed)
	require.Equal(t, map[string]int{"openai": 1, "deepseek": 1}, trends.ByProvider)

	all, err := ut.Trends(30)
	require.NoError(t, err)
	require.Len(t, all.Daily, 3)

	require.NoError(t, ut.Prune(1))
	all, err = ut.Trends(30)
	require.NoError(t, err)
	require.Len(t, all.Daily, 2, "prune keeps yesterday and today")
}
