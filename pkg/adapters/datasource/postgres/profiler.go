package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/golden-engine/pkg/logging"
)

// qualifiedTableName returns "schema"."table", or just "table" when schema is empty.
func qualifiedTableName(schemaName, tableName string) string {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return quotedTable
	}
	return pgx.Identifier{schemaName}.Sanitize() + "." + quotedTable
}

// Profiler profiles PostgreSQL sources.
type Profiler struct {
	pool      *pgxpool.Pool
	ownedPool bool // true if we created the pool (no connection manager)
	logger    *zap.Logger
}

// NewProfiler opens a profiler through the connection manager.
// If connMgr is nil, creates an unmanaged pool closed by Close.
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
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %s", logging.SanitizeError(err))
		}
		return &Profiler{pool: pool, ownedPool: true, logger: logger}, nil
	}

	p, err := connMgr.GetOrCreatePool(ctx, "postgres", target.SourceID, connStr,
		func(ctx context.Context, mc datasource.ConnectionManagerConfig) (datasource.Pool, error) {
			return datasource.CreatePostgresPool(ctx, connStr, mc)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled connection: %w", err)
	}
	pool, err := datasource.GetPostgresPool(p)
	if err != nil {
		return nil, err
	}
	return &Profiler{pool: pool, logger: logger}, nil
}

var _ datasource.SourceProfiler = (*Profiler)(nil)

// ListSchemas returns all non-system schemas.
func (p *Profiler) ListSchemas(ctx context.Context) ([]string, error) {
	const query = `
		SELECT nspname
		FROM pg_namespace
		WHERE nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND nspname NOT LIKE 'pg_temp_%'
		  AND nspname NOT LIKE 'pg_toast_temp_%'
		ORDER BY nspname
	`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	schemas, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan schemas: %w", err)
	}
	return schemas, nil
}

// DiscoverTables returns base tables of a schema, ordered by name.
func (p *Profiler) DiscoverTables(ctx context.Context, schema string) ([]datasource.TableRef, error) {
	const query = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema = $1
		ORDER BY table_name
	`
	rows, err := p.pool.Query(ctx, query, schema)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// DiscoverColumns returns the columns of a table in ordinal order.
func (p *Profiler) DiscoverColumns(ctx context.Context, table datasource.TableRef) ([]datasource.ColumnMetadata, error) {
	const query = `
		SELECT column_name, data_type, is_nullable = 'YES', ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := p.pool.Query(ctx, query, table.Schema, table.Name)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

// CountRows returns the exact row count.
func (p *Profiler) CountRows(ctx context.Context, table datasource.TableRef) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, qualifiedTableName(table.Schema, table.Name))
	var n int64
	if err := p.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return n, nil
}

// AnalyzeColumn computes distinct and null counts. Types without an equality
// operator (json, xml, point) fail COUNT(DISTINCT), so a failed query is retried
// with the column cast to text.
func (p *Profiler) AnalyzeColumn(ctx context.Context, table datasource.TableRef, column string) (*datasource.ColumnStats, error) {
	tableRef := qualifiedTableName(table.Schema, table.Name)
	quotedCol := pgx.Identifier{column}.Sanitize()

	query := fmt.Sprintf(`
		SELECT COUNT(DISTINCT %s), COUNT(*) - COUNT(%s)
		FROM %s
	`, quotedCol, quotedCol, tableRef)

	var s datasource.ColumnStats
	err := p.pool.QueryRow(ctx, query).Scan(&s.DistinctCount, &s.NullCount)
	if err == nil {
		return &s, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	simplifiedQuery := fmt.Sprintf(`
		SELECT COUNT(DISTINCT %s::text), COUNT(*) - COUNT(%s)
		FROM %s
	`, quotedCol, quotedCol, tableRef)

	if retryErr := p.pool.QueryRow(ctx, simplifiedQuery).Scan(&s.DistinctCount, &s.NullCount); retryErr != nil {
		p.logger.Debug("column stats failed after text-cast retry",
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
	query := fmt.Sprintf(`SELECT * FROM %s`, qualifiedTableName(table.Schema, table.Name))
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("read rows of %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return fmt.Errorf("decode row of %s: %w", table, err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows of %s: %w", table, err)
	}
	return nil
}

// Close releases the profiler (but NOT the pool if managed).
func (p *Profiler) Close() error {
	if p.ownedPool && p.pool != nil {
		p.pool.Close()
	}
	return nil
}
