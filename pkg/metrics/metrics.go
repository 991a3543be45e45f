package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Selection metrics
var (
	SelectionRules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "protonfusion_selection_rules",
			Help: "Rules seen by the last selection run, by outcome",
		},
		[]string{"outcome"}, // selected, disabled_skipped, disabled_included, archived_included, excluded, deprecated, superseded
	)
)

// Consolidation metrics
var (
	ConsolidationRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "protonfusion_consolidation_runs_total",
			Help: "Total number of consolidation runs",
		},
	)

	ConsolidationInputRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "protonfusion_consolidation_input_rules",
			Help: "Number of rules fed into the last consolidation run",
		},
	)

	ConsolidationOutputRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "protonfusion_consolidation_output_rules",
			Help: "Number of consolidated rules produced by the last run",
		},
	)

	ConsolidationReductionPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "protonfusion_consolidation_reduction_percent",
			Help: "Rule count reduction achieved by the last run (0-100)",
		},
	)

	ConsolidationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "protonfusion_consolidation_duration_seconds",
			Help:    "Duration of consolidation runs in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		},
	)

	ScriptBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "protonfusion_script_bytes",
			Help: "Size of the last rendered managed section in bytes",
		},
	)
)

// Snapshot store metrics
var (
	SnapshotOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protonfusion_snapshot_operations_total",
			Help: "Total number of snapshot store operations",
		},
		[]string{"operation", "status"},
	)

	ArchiveEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "protonfusion_archive_entries",
			Help: "Number of entries in the last written archive",
		},
	)
)

// Sync metrics
var (
	SyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protonfusion_sync_operations_total",
			Help: "Total number of operations applied against the remote system",
		},
		[]string{"operation", "result"},
	)
)

// WriteTextfile writes every registered metric to path in the text
// exposition format, for pickup by a node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}
