package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "golden_engine"

// Metrics holds the engine's prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	scanRuns        *prometheus.CounterVec
	tablesProfiled  *prometheus.CounterVec
	tableDuration   prometheus.Histogram
	columnFailures  prometheus.Counter
	sourcesScanned  *prometheus.CounterVec
	matches         *prometheus.CounterVec
	rowsResolved    *prometheus.CounterVec
	lastScanSuccess prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scanRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_runs_total",
			Help:      "Scan runs closed, by terminal status.",
		}, []string{"status"}),
		tablesProfiled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_profiled_total",
			Help:      "Tables profiled, by result.",
		}, []string{"result"}),
		tableDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "table_profile_duration_seconds",
			Help:      "Time spent profiling one table.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		columnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "column_profile_failures_total",
			Help:      "Columns whose statistics degraded to unknown.",
		}),
		sourcesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_scanned_total",
			Help:      "Source scans, by db type and result.",
		}, []string{"db_type", "result"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Match-and-upsert calls, by path (rule or fallback) and outcome (created or updated).",
		}, []string{"path", "outcome"}),
		rowsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_resolved_total",
			Help:      "Rows processed by the identity worker, by result.",
		}, []string{"result"}),
		lastScanSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scan_success_timestamp_seconds",
			Help:      "Unix time of the last scan that finished without source failures.",
		}),
	}

	m.registry.MustRegister(
		m.scanRuns, m.tablesProfiled, m.tableDuration, m.columnFailures,
		m.sourcesScanned, m.matches, m.rowsResolved, m.lastScanSuccess,
	)
	return m
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ScanRunClosed counts a run reaching a terminal status.
func (m *Metrics) ScanRunClosed(status string) {
	if m == nil {
		return
	}
	m.scanRuns.WithLabelValues(status).Inc()
}

// TableProfiled records one table profile attempt.
func (m *Metrics) TableProfiled(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tablesProfiled.WithLabelValues(result(ok)).Inc()
	m.tableDuration.Observe(elapsed.Seconds())
}

// ColumnFailed counts a column whose statistics are unknown.
func (m *Metrics) ColumnFailed() {
	if m == nil {
		return
	}
	m.columnFailures.Inc()
}

// SourceScanned records one source scan.
func (m *Metrics) SourceScanned(dbType string, ok bool) {
	if m == nil {
		return
	}
	m.sourcesScanned.WithLabelValues(dbType, result(ok)).Inc()
}

// ScanSucceeded stamps the last fully successful scan time.
func (m *Metrics) ScanSucceeded(at time.Time) {
	if m == nil {
		return
	}
	m.lastScanSuccess.Set(float64(at.Unix()))
}

// Matched records a match-and-upsert outcome.
func (m *Metrics) Matched(fallback, created bool) {
	if m == nil {
		return
	}
	path := "rule"
	if fallback {
		path = "fallback"
	}
	outcome := "updated"
	if created {
		outcome = "created"
	}
	m.matches.WithLabelValues(path, outcome).Inc()
}

// RowResolved records one identity worker row.
func (m *Metrics) RowResolved(ok bool) {
	if m == nil {
		return
	}
	m.rowsResolved.WithLabelValues(result(ok)).Inc()
}

// WriteTextfile writes all metrics in the text exposition format for the
// node-exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
