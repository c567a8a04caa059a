package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
)

// CatalogGuard wraps a SourceProfiler so that identifiers interpolated into SQL
// are only ever ones the profiler itself returned from introspection. Tables must
// come from DiscoverTables and columns from DiscoverColumns before they can be
// counted, analyzed, sampled or read.
type CatalogGuard struct {
	inner SourceProfiler

	mu      sync.RWMutex
	schemas map[string]bool
	tables  map[TableRef]bool
	columns map[TableRef]map[string]bool
}

// NewCatalogGuard wraps inner.
func NewCatalogGuard(inner SourceProfiler) *CatalogGuard {
	return &CatalogGuard{
		inner:   inner,
		schemas: make(map[string]bool),
		tables:  make(map[TableRef]bool),
		columns: make(map[TableRef]map[string]bool),
	}
}

var _ SourceProfiler = (*CatalogGuard)(nil)

func (g *CatalogGuard) ListSchemas(ctx context.Context) ([]string, error) {
	schemas, err := g.inner.ListSchemas(ctx)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	for _, s := range schemas {
		g.schemas[s] = true
	}
	g.mu.Unlock()
	return schemas, nil
}

// DiscoverTables accepts any schema name: it is passed as a bind parameter, never interpolated.
func (g *CatalogGuard) DiscoverTables(ctx context.Context, schema string) ([]TableRef, error) {
	tables, err := g.inner.DiscoverTables(ctx, schema)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	for _, t := range tables {
		g.tables[t] = true
	}
	g.mu.Unlock()
	return tables, nil
}

func (g *CatalogGuard) DiscoverColumns(ctx context.Context, table TableRef) ([]ColumnMetadata, error) {
	if err := g.checkTable(table); err != nil {
		return nil, err
	}
	cols, err := g.inner.DiscoverColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c.ColumnName] = true
	}
	g.mu.Lock()
	g.columns[table] = set
	g.mu.Unlock()
	return cols, nil
}

func (g *CatalogGuard) CountRows(ctx context.Context, table TableRef) (int64, error) {
	if err := g.checkTable(table); err != nil {
		return 0, err
	}
	return g.inner.CountRows(ctx, table)
}

func (g *CatalogGuard) AnalyzeColumn(ctx context.Context, table TableRef, column string) (*ColumnStats, error) {
	if err := g.checkColumn(table, column); err != nil {
		return nil, err
	}
	return g.inner.AnalyzeColumn(ctx, table, column)
}

func (g *CatalogGuard) SampleRow(ctx context.Context, table TableRef) (map[string]any, error) {
	if err := g.checkTable(table); err != nil {
		return nil, err
	}
	return g.inner.SampleRow(ctx, table)
}

func (g *CatalogGuard) ReadRows(ctx context.Context, table TableRef, limit int, fn RowFunc) error {
	if err := g.checkTable(table); err != nil {
		return err
	}
	return g.inner.ReadRows(ctx, table, limit, fn)
}

func (g *CatalogGuard) Close() error {
	return g.inner.Close()
}

func (g *CatalogGuard) checkTable(table TableRef) error {
	g.mu.RLock()
	ok := g.tables[table]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("table %s: %w", table, apperrors.ErrIdentifierNotAllowed)
	}
	return nil
}

func (g *CatalogGuard) checkColumn(table TableRef, column string) error {
	if err := g.checkTable(table); err != nil {
		return err
	}
	g.mu.RLock()
	ok := g.columns[table][column]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("column %s.%s: %w", table, column, apperrors.ErrIdentifierNotAllowed)
	}
	return nil
}
