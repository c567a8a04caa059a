package datasource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
)

type stubProfiler struct {
	tables  []TableRef
	columns []ColumnMetadata
	closed  bool
}

func (s *stubProfiler) ListSchemas(ctx context.Context) ([]string, error) {
	return []string{"public"}, nil
}
func (s *stubProfiler) DiscoverTables(ctx context.Context, schema string) ([]TableRef, error) {
	return s.tables, nil
}
func (s *stubProfiler) DiscoverColumns(ctx context.Context, table TableRef) ([]ColumnMetadata, error) {
	return s.columns, nil
}
func (s *stubProfiler) CountRows(ctx context.Context, table TableRef) (int64, error) { return 3, nil }
func (s *stubProfiler) AnalyzeColumn(ctx context.Context, table TableRef, column string) (*ColumnStats, error) {
	return &ColumnStats{DistinctCount: 2, NullCount: 1}, nil
}
func (s *stubProfiler) SampleRow(ctx context.Context, table TableRef) (map[string]any, error) {
	return map[string]any{"id": int64(1)}, nil
}
func (s *stubProfiler) ReadRows(ctx context.Context, table TableRef, limit int, fn RowFunc) error {
	return fn(map[string]any{"id": int64(1)})
}
func (s *stubProfiler) Close() error {
	s.closed = true
	return nil
}

func TestCatalogGuard_RejectsUndiscoveredTable(t *testing.T) {
	ctx := context.Background()
	g := NewCatalogGuard(&stubProfiler{tables: []TableRef{{Schema: "public", Name: "customers"}}})

	evil := TableRef{Schema: "public", Name: `customers"; DROP TABLE x; --`}
	_, err := g.CountRows(ctx, evil)
	require.ErrorIs(t, err, apperrors.ErrIdentifierNotAllowed)

	_, err = g.DiscoverTables(ctx, "public")
	require.NoError(t, err)

	_, err = g.CountRows(ctx, evil)
	require.ErrorIs(t, err, apperrors.ErrIdentifierNotAllowed)

	n, err := g.CountRows(ctx, TableRef{Schema: "public", Name: "customers"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	err = g.ReadRows(ctx, evil, 0, func(map[string]any) error { return nil })
	require.ErrorIs(t, err, apperrors.ErrIdentifierNotAllowed)
}

func TestCatalogGuard_RejectsUndiscoveredColumn(t *testing.T) {
	ctx := context.Background()
	ref := TableRef{Schema: "public", Name: "customers"}
	g := NewCatalogGuard(&stubProfiler{
		tables:  []TableRef{ref},
		columns: []ColumnMetadata{{ColumnName: "email", DataType: "text"}},
	})

	_, err := g.DiscoverTables(ctx, "public")
	require.NoError(t, err)

	_, err = g.AnalyzeColumn(ctx, ref, "email")
	require.ErrorIs(t, err, apperrors.ErrIdentifierNotAllowed, "columns must be discovered first")

	_, err = g.DiscoverColumns(ctx, ref)
	require.NoError(t, err)

	stats, err := g.AnalyzeColumn(ctx, ref, "email")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.DistinctCount)

	_, err = g.AnalyzeColumn(ctx, ref, "email) FROM pg_shadow --")
	require.ErrorIs(t, err, apperrors.ErrIdentifierNotAllowed)
}

func TestCatalogGuard_ClosePassesThrough(t *testing.T) {
	inner := &stubProfiler{}
	require.NoError(t, NewCatalogGuard(inner).Close())
	assert.True(t, inner.closed)
}

func TestTableRef_String(t *testing.T) {
	assert.Equal(t, "public.orders", TableRef{Schema: "public", Name: "orders"}.String())
	assert.Equal(t, "orders", TableRef{Name: "orders"}.String())
}
