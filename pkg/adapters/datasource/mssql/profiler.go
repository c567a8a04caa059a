package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/golden-engine/pkg/logging"
)

const driverName = "sqlserver"

// Profiler profiles SQL Server sources.
type Profiler struct {
	db      *sql.DB
	ownedDB bool
	logger  *zap.Logger
}

// NewProfiler opens a profiler through the connection manager.
// If connMgr is nil, opens an unmanaged connection closed by Close.
func NewProfiler(ctx context.Context, target *datasource.ConnectionTarget, connMgr *datasource.ConnectionManager, logger *zap.Logger) (*Profiler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := FromTarget(target)
	if err != nil {
		return nil, err
	}
	connStr := cfg.ConnectionString()

	if connMgr == nil {
		db, err := sql.Open(driverName, connStr)
		if err != nil {
			return nil, fmt.Errorf("open SQL Server connection: %s", logging.SanitizeError(err))
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to SQL Server: %s", logging.SanitizeError(err))
		}
		return &Profiler{db: db, ownedDB: true, logger: logger}, nil
	}

	p, err := connMgr.GetOrCreatePool(ctx, "mssql", target.SourceID, connStr,
		func(ctx context.Context, mc datasource.ConnectionManagerConfig) (datasource.Pool, error) {
			return datasource.CreateSQLPool(ctx, driverName, connStr, mc)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled connection: %w", err)
	}
	db, err := datasource.GetSQLDB(p)
	if err != nil {
		return nil, err
	}
	return &Profiler{db: db, logger: logger}, nil
}

var _ datasource.SourceProfiler = (*Profiler)(nil)

// ListSchemas returns user schemas, excluding the fixed database roles.
func (p *Profiler) ListSchemas(ctx context.Context) ([]string, error) {
	const query = `
		SELECT s.name
		FROM sys.schemas s
		WHERE s.name NOT IN ('sys', 'INFORMATION_SCHEMA', 'guest')
		  AND s.name NOT LIKE 'db[_]%'
		ORDER BY s.name`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		schemas = append(schemas, s)
	}
	return schemas, rows.Err()
}

// DiscoverTables returns user base tables of a schema.
func (p *Profiler) DiscoverTables(ctx context.Context, schema string) ([]datasource.TableRef, error) {
	const query = `
		SELECT s.name, t.name
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE t.is_ms_shipped = 0
		  AND s.name = @p1
		ORDER BY t.name`

	rows, err := p.db.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableRef
	for rows.Next() {
		var t datasource.TableRef
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// DiscoverColumns returns the columns of a table in ordinal order.
func (p *Profiler) DiscoverColumns(ctx context.Context, table datasource.TableRef) ([]datasource.ColumnMetadata, error) {
	const query = `
		SELECT c.name, ty.name, c.is_nullable, c.column_id
		FROM sys.columns c
		JOIN sys.types ty ON ty.user_type_id = c.user_type_id
		JOIN sys.tables t ON t.object_id = c.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name = @p1 AND t.name = @p2
		ORDER BY c.column_id`

	rows, err := p.db.QueryContext(ctx, query, table.Schema, table.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var c datasource.ColumnMetadata
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.IsNullable, &c.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

// CountRows returns the exact row count.
func (p *Profiler) CountRows(ctx context.Context, table datasource.TableRef) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT_BIG(*) FROM %s`, qualifiedTableName(table.Schema, table.Name))
	var n int64
	if err := p.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return n, nil
}

// AnalyzeColumn computes distinct and null counts. text, ntext, image and xml
// columns reject COUNT(DISTINCT), so a failed query is retried on an NVARCHAR conversion.
func (p *Profiler) AnalyzeColumn(ctx context.Context, table datasource.TableRef, column string) (*datasource.ColumnStats, error) {
	tableRef := qualifiedTableName(table.Schema, table.Name)
	col := quoteName(column)

	query := fmt.Sprintf(`SELECT COUNT_BIG(DISTINCT %s), COUNT_BIG(*) - COUNT_BIG(%s) FROM %s`, col, col, tableRef)

	var s datasource.ColumnStats
	err := p.db.QueryRowContext(ctx, query).Scan(&s.DistinctCount, &s.NullCount)
	if err == nil {
		return &s, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	simplifiedQuery := fmt.Sprintf(
		`SELECT COUNT_BIG(DISTINCT CONVERT(NVARCHAR(4000), %s)), COUNT_BIG(*) - COUNT_BIG(%s) FROM %s`,
		col, col, tableRef)
	if retryErr := p.db.QueryRowContext(ctx, simplifiedQuery).Scan(&s.DistinctCount, &s.NullCount); retryErr != nil {
		p.logger.Debug("column stats failed after conversion retry",
			zap.String("table", table.String()),
			zap.String("column", column),
			zap.Error(err),
			zap.NamedError("retry_error", retryErr))
		return nil, fmt.Errorf("analyze column %s.%s: %w", table, column, retryErr)
	}
	return &s, nil
}

// SampleRow returns the first row, or nil when the table is empty.
func (p *Profiler) SampleRow(ctx context.Context, table datasource.TableRef) (map[string]any, error) {
	var sample map[string]any
	err := p.ReadRows(ctx, table, 1, func(row map[string]any) error {
		sample = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sample, nil
}

// ReadRows streams rows to fn. limit <= 0 reads the whole table.
func (p *Profiler) ReadRows(ctx context.Context, table datasource.TableRef, limit int, fn datasource.RowFunc) error {
	tableRef := qualifiedTableName(table.Schema, table.Name)
	query := fmt.Sprintf(`SELECT * FROM %s`, tableRef)
	var args []any
	if limit > 0 {
		query = fmt.Sprintf(`SELECT TOP (@p1) * FROM %s`, tableRef)
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("read rows of %s: %w", table, err)
	}
	defer rows.Close()

	if err := datasource.StreamSQLRows(rows, fn); err != nil {
		return fmt.Errorf("read rows of %s: %w", table, err)
	}
	return nil
}

// Close releases the profiler (but NOT the pool if managed).
func (p *Profiler) Close() error {
	if p.ownedDB && p.db != nil {
		return p.db.Close()
	}
	return nil
}
