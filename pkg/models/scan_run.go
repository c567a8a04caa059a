package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanRunStatus is the lifecycle state of a scan run.
type ScanRunStatus string

const (
	ScanRunPending ScanRunStatus = "PENDING"
	ScanRunSuccess ScanRunStatus = "SUCCESS"
	ScanRunFailed  ScanRunStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s ScanRunStatus) IsTerminal() bool {
	return s == ScanRunSuccess || s == ScanRunFailed
}

// Well-known metric keys.
const (
	MetricTotalTables  = "total_tables"
	MetricTotalRows    = "total_rows"
	MetricFailedTables = "failed_tables"
	MetricError        = "error"
	MetricWarning      = "warning"
)

// ScanRun records one scan of one source (or of the local fallback when none is registered).
type ScanRun struct {
	ID           uuid.UUID      `json:"scan_run_id"`
	SourceSystem string         `json:"source_system"`
	SourceDBID   *uuid.UUID     `json:"source_db_id,omitempty"`
	Status       ScanRunStatus  `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Metrics      map[string]any `json:"metrics"`
}
