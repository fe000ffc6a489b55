// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProgressEvents counts engine events by type.
	ProgressEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quest_progress_events_total",
		Help: "Progression events emitted by the engine, by type",
	}, []string{"type"})

	// SnapshotSaves counts save attempts by result (ok, error, skipped).
	SnapshotSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quest_snapshot_saves_total",
		Help: "Snapshot save attempts by result",
	}, []string{"result"})

	// SnapshotSaveDuration observes store write latency.
	SnapshotSaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quest_snapshot_save_duration_seconds",
		Help:    "Snapshot store write duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// Imports counts snapshot imports by strategy and result.
	Imports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quest_snapshot_imports_total",
		Help: "Snapshot imports by merge strategy and result",
	}, []string{"strategy", "result"})

	// CompletionPercent is the learner's current completion percentage.
	CompletionPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quest_completion_percent",
		Help: "Current curriculum completion percentage",
	})
)
