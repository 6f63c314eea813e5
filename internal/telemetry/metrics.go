// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ckt1031/simple-chat/internal/reconcile"
	"github.com/ckt1031/simple-chat/internal/stream"
)

const namespace = "simplechat"

// =============================================================================
// METRICS
// =============================================================================

// Metrics holds the Prometheus collectors for generation and sync. It
// implements stream.Observer and reconcile.Observer.
type Metrics struct {
	generations        *prometheus.CounterVec
	streamEvents       *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec

	syncRuns     *prometheus.CounterVec
	syncObjects  *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
}

var (
	_ stream.Observer    = (*Metrics)(nil)
	_ reconcile.Observer = (*Metrics)(nil)
)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Model responses by provider and final status.",
		}, []string{"provider", "status"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Stream events applied to assistant messages.",
		}, []string{"provider"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time from request to final status.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"provider"}),

		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by direction and result.",
		}, []string{"direction", "result"}),
		syncObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_objects_total",
			Help:      "Objects transferred or deleted by sync.",
		}, []string{"direction", "action"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
	}
	reg.MustRegister(
		m.generations, m.streamEvents, m.generationDuration,
		m.syncRuns, m.syncObjects, m.syncDuration,
	)
	return m
}

// GenerationFinished implements stream.Observer.
func (m *Metrics) GenerationFinished(providerID string, status stream.Status, events int, elapsed time.Duration) {
	if providerID == "" {
		providerID = "none"
	}
	m.generations.WithLabelValues(providerID, status.String()).Inc()
	m.streamEvents.WithLabelValues(providerID).Add(float64(events))
	m.generationDuration.WithLabelValues(providerID).Observe(elapsed.Seconds())
}

// SyncFinished implements reconcile.Observer.
func (m *Metrics) SyncFinished(direction reconcile.Direction, report reconcile.Report, err error, elapsed time.Duration) {
	dir := direction.String()
	result := "success"
	if err != nil {
		result = "error"
	}
	m.syncRuns.WithLabelValues(dir, result).Inc()
	m.syncDuration.WithLabelValues(dir).Observe(elapsed.Seconds())

	for action, n := range map[string]int{
		"uploaded":              report.Uploaded,
		"remote_deleted":        report.RemoteDeleted,
		"assets_uploaded":       report.AssetsUploaded,
		"assets_remote_deleted": report.AssetsRemoteDeleted,
		"downloaded":            report.Downloaded,
		"local_deleted":         report.LocalDeleted,
		"assets_downloaded":     report.AssetsDownloaded,
		"skipped":               report.Skipped,
	} {
		if n > 0 {
			m.syncObjects.WithLabelValues(dir, action).Add(float64(n))
		}
	}
}

// =============================================================================
// FAN-OUT
// =============================================================================

// GenerationObservers forwards to every observer in the slice.
type GenerationObservers []stream.Observer

// GenerationFinished implements stream.Observer.
func (o GenerationObservers) GenerationFinished(providerID string, status stream.Status, events int, elapsed time.Duration) {
	for _, obs := range o {
		if obs != nil {
			obs.GenerationFinished(providerID, status, events, elapsed)
		}
	}
}
