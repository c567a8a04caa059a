package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
)

const driverName = "sqlite"

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualifiedTableName(table datasource.TableRef) string {
	return quoteIdent(MainSchema) + "." + quoteIdent(table.Name)
}

// Profiler profiles SQLite database files.
type Profiler struct {
	db      *sql.DB
	ownedDB bool
	logger  *zap.Logger
}

// NewProfiler opens a profiler through the connection manager.
// If connMgr is nil, opens an unmanaged handle closed by Close.
func NewProfiler(ctx context.Context, target *datasource.ConnectionTarget, connMgr *datasource.ConnectionManager, logger *zap.Logger) (*Profiler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := FromTarget(target)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DSN()

	if connMgr == nil {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		return &Profiler{db: db, ownedDB: true, logger: logger}, nil
	}

	p, err := connMgr.GetOrCreatePool(ctx, "sqlite", target.SourceID, dsn,
		func(ctx context.Context, mc datasource.ConnectionManagerConfig) (datasource.Pool, error) {
			return datasource.CreateSQLPool(ctx, driverName, dsn, mc)
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

// ListSchemas always returns the main schema.
func (p *Profiler) ListSchemas(ctx context.Context) ([]string, error) {
	return []string{MainSchema}, nil
}

// DiscoverTables returns user tables of the main schema.
func (p *Profiler) DiscoverTables(ctx context.Context, schema string) ([]datasource.TableRef, error) {
	if schema != MainSchema {
		return nil, nil
	}
	const query = `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableRef
	for rows.Next() {
		t := datasource.TableRef{Schema: MainSchema}
		if err := rows.Scan(&t.Name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// DiscoverColumns returns the columns of a table in declaration order.
func (p *Profiler) DiscoverColumns(ctx context.Context, table datasource.TableRef) ([]datasource.ColumnMetadata, error) {
	const query = `SELECT name, type, "notnull", cid FROM pragma_table_info(?) ORDER BY cid`

	rows, err := p.db.QueryContext(ctx, query, table.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var (
			c       datasource.ColumnMetadata
			notNull int
			cid     int
		)
		if err := rows.Scan(&c.ColumnName, &c.DataType, &notNull, &cid); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.IsNullable = notNull == 0
		c.OrdinalPosition = cid + 1
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

// CountRows returns the exact row count.
func (p *Profiler) CountRows(ctx context.Context, table datasource.TableRef) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, qualifiedTableName(table))
	if err := p.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return n, nil
}

// AnalyzeColumn computes distinct and null counts, retrying on a text cast on failure.
func (p *Profiler) AnalyzeColumn(ctx context.Context, table datasource.TableRef, column string) (*datasource.ColumnStats, error) {
	tableRef := qualifiedTableName(table)
	col := quoteIdent(column)

	var s datasource.ColumnStats
	query := fmt.Sprintf(`SELECT COUNT(DISTINCT %s), COUNT(*) - COUNT(%s) FROM %s`, col, col, tableRef)
	err := p.db.QueryRowContext(ctx, query).Scan(&s.DistinctCount, &s.NullCount)
	if err == nil {
		return &s, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	simplifiedQuery := fmt.Sprintf(`SELECT COUNT(DISTINCT CAST(%s AS TEXT)), COUNT(*) - COUNT(%s) FROM %s`, col, col, tableRef)
	if retryErr := p.db.QueryRowContext(ctx, simplifiedQuery).Scan(&s.DistinctCount, &s.NullCount); retryErr != nil {
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
	query := fmt.Sprintf(`SELECT * FROM %s`, qualifiedTableName(table))
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
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
