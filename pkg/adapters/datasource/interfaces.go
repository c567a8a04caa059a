package datasource

import (
	"context"

	"github.com/google/uuid"
)

// ConnectionTarget is the fully resolved set of parameters for connecting to
// one registered source. Credentials are plaintext here and must never be logged.
type ConnectionTarget struct {
	SourceID uuid.UUID
	Type     string // "postgres", "mssql", "sqlite"
	Host     string
	Port     int
	Database string // database name, or file path for sqlite
	User     string
	Password string
	SSLMode  string
	// Options carries adapter-specific settings from registration metadata
	// (e.g. "encrypt", "trust_server_certificate" for SQL Server).
	Options map[string]string
}

// TableRef identifies a base table in a source.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"table_name"`
}

// String returns schema.table.
func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// ColumnMetadata describes a discovered column.
type ColumnMetadata struct {
	ColumnName      string
	DataType        string
	IsNullable      bool
	OrdinalPosition int
}

// ColumnStats holds exact full-scan statistics of one column.
type ColumnStats struct {
	DistinctCount int64
	NullCount     int64
}

// RowFunc receives one row keyed by column name. Returning an error stops iteration.
type RowFunc func(row map[string]any) error

// SourceProfiler issues read-only introspection and aggregate queries against a source.
// Implementations own (or borrow from the connection manager) their connection and
// must be closed when done.
type SourceProfiler interface {
	// ListSchemas returns all non-system schemas.
	ListSchemas(ctx context.Context) ([]string, error)

	// DiscoverTables returns the base tables of schema (no views, no system tables).
	DiscoverTables(ctx context.Context, schema string) ([]TableRef, error)

	// DiscoverColumns returns the columns of a table in ordinal order.
	DiscoverColumns(ctx context.Context, table TableRef) ([]ColumnMetadata, error)

	// CountRows returns the exact row count.
	CountRows(ctx context.Context, table TableRef) (int64, error)

	// AnalyzeColumn computes distinct and null counts by full scan.
	AnalyzeColumn(ctx context.Context, table TableRef, column string) (*ColumnStats, error)

	// SampleRow returns the first row of the table, or nil when the table is empty.
	SampleRow(ctx context.Context, table TableRef) (map[string]any, error)

	// ReadRows streams up to limit rows (limit <= 0 reads all) to fn.
	ReadRows(ctx context.Context, table TableRef, limit int, fn RowFunc) error

	// Close releases the profiler.
	Close() error
}
