package models

import (
	"time"

	"github.com/google/uuid"
)

// TableProfile is the result of profiling one table in one scan run.
type TableProfile struct {
	ScanRunID  uuid.UUID        `json:"scan_run_id"`
	SchemaName string           `json:"schema"`
	TableName  string           `json:"table_name"`
	RowCount   int64            `json:"row_count"`
	SampleHash *string          `json:"sample_hash,omitempty"`
	Columns    []*ColumnProfile `json:"columns"`
	// Sample is the best-effort first row, used for candidate generation. Not persisted.
	Sample Attributes `json:"-"`
}

// ColumnProfile holds per-column statistics. Nil statistics mean unknown: the
// column could not be profiled, or (for NullRate) the table is empty.
type ColumnProfile struct {
	ColumnName    string   `json:"column_name"`
	DataType      string   `json:"data_type"`
	RowCount      int64    `json:"row_count"`
	DistinctCount *int64   `json:"distinct_count"`
	NullCount     *int64   `json:"null_count"`
	NullRate      *float64 `json:"null_rate"`
}

// ObjectCandidate is a table the scanner thinks holds objects of GuessType.
type ObjectCandidate struct {
	SchemaName string    `json:"schema"`
	TableName  string    `json:"table_name"`
	GuessType  string    `json:"guess_type"`
	RowCount   int64     `json:"row_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}
