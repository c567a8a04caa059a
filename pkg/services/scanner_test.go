package services

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/golden-engine/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
	"github.com/ekaya-inc/golden-engine/pkg/config"
	"github.com/ekaya-inc/golden-engine/pkg/crypto"
	"github.com/ekaya-inc/golden-engine/pkg/lock"
	"github.com/ekaya-inc/golden-engine/pkg/metrics"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

type scannerFixture struct {
	scanner    ScannerService
	sources    *mockSourceRepository
	runs       *mockScanRunRepository
	profiles   *mockProfileRepository
	candidates *mockCandidateRepository
	objects    *mockGoldenObjectRepository
}

func testScannerConfig() config.ScannerConfig {
	return config.ScannerConfig{
		LocalSourceName:     "local",
		InternalTablePrefix: "engine_",
		TableTimeout:        time.Minute,
		SourceTimeout:       5 * time.Minute,
		SourceConcurrency:   1,
	}
}

func newScannerFixture(t *testing.T, factory datasource.ProfilerFactory, cfg config.ScannerConfig, locker lock.Locker, regs ...*models.SourceRegistration) *scannerFixture {
	t.Helper()
	enc, err := crypto.NewCredentialEncryptor(testEncryptionKey)
	require.NoError(t, err)

	f := &scannerFixture{
		sources:    newMockSourceRepository(regs...),
		runs:       newMockScanRunRepository(),
		profiles:   &mockProfileRepository{},
		candidates: newMockCandidateRepository(),
		objects:    newMockGoldenObjectRepository(),
	}
	logger := zap.NewNop()
	m := metrics.New()
	f.scanner = NewScannerService(
		NewSourceService(f.sources, enc, cfg.LoopbackAlias, logger),
		factory,
		NewScanRunTracker(f.runs, m, logger),
		f.profiles,
		f.candidates,
		f.objects,
		locker,
		cfg,
		m,
		logger,
	)
	return f
}

func customersTable() *fakeTable {
	return &fakeTable{
		columns: []datasource.ColumnMetadata{
			{ColumnName: "id", DataType: "integer", OrdinalPosition: 1},
			{ColumnName: "email", DataType: "text", OrdinalPosition: 2},
			{ColumnName: "phone", DataType: "text", OrdinalPosition: 3},
		},
		rows: []map[string]any{
			{"id": int64(1), "email": "a@x.com", "phone": nil},
			{"id": int64(2), "email": "a@x.com", "phone": "555"},
			{"id": int64(3), "email": "b@x.com", "phone": nil},
			{"id": int64(4), "email": "c@x.com", "phone": "556"},
		},
	}
}

func emptyTable() *fakeTable {
	return &fakeTable{
		columns: []datasource.ColumnMetadata{
			{ColumnName: "id", DataType: "integer", OrdinalPosition: 1},
			{ColumnName: "name", DataType: "text", OrdinalPosition: 2},
		},
	}
}

func TestScanner_ProfileTable(t *testing.T) {
	profiler := &fakeProfiler{tables: map[string]*fakeTable{"public.customers": customersTable()}}
	f := newScannerFixture(t, &fakeFactory{}, testScannerConfig(), nil)

	profile, err := f.scanner.ProfileTable(context.Background(), profiler, datasource.TableRef{Schema: "public", Name: "customers"})
	require.NoError(t, err)

	assert.Equal(t, int64(4), profile.RowCount)
	require.Len(t, profile.Columns, 3)

	phone := profile.Columns[2]
	assert.Equal(t, "phone", phone.ColumnName)
	require.NotNil(t, phone.NullCount)
	assert.Equal(t, int64(2), *phone.NullCount)
	require.NotNil(t, phone.NullRate)
	assert.InDelta(t, 0.5, *phone.NullRate, 1e-9)

	email := profile.Columns[1]
	require.NotNil(t, email.DistinctCount)
	assert.Equal(t, int64(3), *email.DistinctCount)

	require.NotNil(t, profile.SampleHash)
	assert.Equal(t, SampleHash(profile.Sample), *profile.SampleHash)
	assert.Equal(t, "a@x.com", profile.Sample["email"])
}

func TestScanner_ProfileTable_EmptyTableHasNoNullRate(t *testing.T) {
	profiler := &fakeProfiler{tables: map[string]*fakeTable{"public.things": emptyTable()}}
	f := newScannerFixture(t, &fakeFactory{}, testScannerConfig(), nil)

	profile, err := f.scanner.ProfileTable(context.Background(), profiler, datasource.TableRef{Schema: "public", Name: "things"})
	require.NoError(t, err)

	assert.Equal(t, int64(0), profile.RowCount)
	for _, col := range profile.Columns {
		assert.Nil(t, col.NullRate, col.ColumnName)
		require.NotNil(t, col.NullCount, col.ColumnName)
		assert.Equal(t, int64(0), *col.NullCount)
	}
	assert.Nil(t, profile.SampleHash)
	assert.Empty(t, profile.Sample)
}

func TestScanner_ProfileTable_ColumnFailureDegradesToUnknown(t *testing.T) {
	table := customersTable()
	table.failColumns = map[string]bool{"email": true}
	profiler := &fakeProfiler{tables: map[string]*fakeTable{"public.customers": table}}
	f := newScannerFixture(t, &fakeFactory{}, testScannerConfig(), nil)

	profile, err := f.scanner.ProfileTable(context.Background(), profiler, datasource.TableRef{Schema: "public", Name: "customers"})
	require.NoError(t, err)
	require.Len(t, profile.Columns, 3)

	email := profile.Columns[1]
	assert.Nil(t, email.DistinctCount)
	assert.Nil(t, email.NullCount)
	assert.Nil(t, email.NullRate)

	assert.NotNil(t, profile.Columns[0].DistinctCount)
	assert.NotNil(t, profile.Columns[2].NullRate)
}

func TestScanner_ProfileTable_CountFailureFailsTable(t *testing.T) {
	table := customersTable()
	table.countErr = errors.New("permission denied for table customers")
	profiler := &fakeProfiler{tables: map[string]*fakeTable{"public.customers": table}}
	f := newScannerFixture(t, &fakeFactory{}, testScannerConfig(), nil)

	_, err := f.scanner.ProfileTable(context.Background(), profiler, datasource.TableRef{Schema: "public", Name: "customers"})
	require.Error(t, err)
}

func TestScanner_EnumerateTables_AppliesBlacklist(t *testing.T) {
	profiler := &fakeProfiler{tables: map[string]*fakeTable{
		"public.customers":        customersTable(),
		"public.temp_customers":   customersTable(),
		"public.engine_scan_runs": emptyTable(),
	}}
	f := newScannerFixture(t, &fakeFactory{}, testScannerConfig(), nil)

	tables, err := f.scanner.EnumerateTables(context.Background(), profiler, "public", []string{"TEMP_%"})
	require.NoError(t, err)
	assert.Equal(t, []datasource.TableRef{{Schema: "public", Name: "customers"}}, tables)
}

func TestScanner_SampleHash_Canonical(t *testing.T) {
	a := SampleHash(map[string]any{"b": "2", "a": int64(1), "c": nil})
	b := SampleHash(map[string]any{"c": nil, "a": int64(1), "b": "2"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, SampleHash(map[string]any{"a": int64(1), "b": "3", "c": nil}))
}

func TestScanner_ScanSource_IsolatesTableFailures(t *testing.T) {
	broken := customersTable()
	broken.countErr = errors.New("canceling statement due to statement timeout")
	profiler := &fakeProfiler{
		schemas: []string{"public", "sales"},
		tables: map[string]*fakeTable{
			"public.customers": customersTable(),
			"public.broken":    broken,
			"sales.orders":     emptyTable(),
		},
	}
	reg := &models.SourceRegistration{Name: "crm", DBType: models.SourceTypePostgres, Host: "crm.internal", Port: 5432, DatabaseName: "crm", Active: true}
	f := newScannerFixture(t, &fakeFactory{profilers: map[string]*fakeProfiler{"crm.internal": profiler}}, testScannerConfig(), nil, reg)

	result, err := f.scanner.ScanSource(context.Background(), reg)
	require.NoError(t, err)

	assert.False(t, result.Failed())
	assert.Len(t, result.Profiles, 2, "all schemas discovered when none configured")
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "broken", result.Failures[0].Table.Name)
	assert.Equal(t, int64(4), result.TotalRows)
	assert.True(t, profiler.closed)

	assert.Equal(t, models.ScanRunSuccess, result.Run.Status)
	assert.Equal(t, 2, result.Run.Metrics[models.MetricTotalTables])
	assert.Equal(t, int64(4), result.Run.Metrics[models.MetricTotalRows])
	assert.NotNil(t, result.Run.Metrics[models.MetricFailedTables])
	assert.Equal(t, models.LastScanStatusSuccess, f.sources.statusOf(reg.ID))

	for _, p := range f.profiles.profiles {
		assert.Equal(t, result.Run.ID, p.ScanRunID)
	}
}

func TestScanner_ShowRun(t *testing.T) {
	profiler := &fakeProfiler{
		schemas: []string{"public"},
		tables:  map[string]*fakeTable{"public.customers": customersTable()},
	}
	reg := &models.SourceRegistration{Name: "crm", DBType: models.SourceTypePostgres, Host: "crm.internal", Port: 5432, DatabaseName: "crm", Active: true}
	f := newScannerFixture(t, &fakeFactory{profilers: map[string]*fakeProfiler{"crm.internal": profiler}}, testScannerConfig(), nil, reg)

	result, err := f.scanner.ScanSource(context.Background(), reg)
	require.NoError(t, err)

	report, err := f.scanner.ShowRun(context.Background(), result.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Run.ID, report.Run.ID)
	assert.Equal(t, models.ScanRunSuccess, report.Run.Status)
	require.Len(t, report.Profiles, 1)
	assert.Equal(t, "customers", report.Profiles[0].TableName)

	_, err = f.scanner.ShowRun(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestScanner_ScanSource_ExplicitSchemas(t *testing.T) {
	profiler := &fakeProfiler{
		schemas: []string{"public", "sales"},
		tables: map[string]*fakeTable{
			"public.customers": customersTable(),
			"sales.orders":     emptyTable(),
		},
	}
	reg := &models.SourceRegistration{Name: "crm", DBType: models.SourceTypePostgres, Host: "crm.internal", Port: 5432, DatabaseName: "crm", Schemas: []string{"sales"}, Active: true}
	f := newScannerFixture(t, &fakeFactory{profilers: map[string]*fakeProfiler{"crm.internal": profiler}}, testScannerConfig(), nil, reg)

	result, err := f.scanner.ScanSource(context.Background(), reg)
	require.NoError(t, err)
	require.Len(t, result.Profiles, 1)
	assert.Equal(t, "orders", result.Profiles[0].TableName)
}

func TestScanner_ScanSource_ConnectionFailure(t *testing.T) {
	reg := &models.SourceRegistration{Name: "down", DBType: models.SourceTypePostgres, Host: "down.internal", Port: 5432, DatabaseName: "x", Active: true}
	f := newScannerFixture(t, &fakeFactory{}, testScannerConfig(), nil, reg)

	result, err := f.scanner.ScanSource(context.Background(), reg)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Failed())
	assert.Equal(t, models.ScanRunFailed, result.Run.Status)
	assert.Contains(t, result.Run.Metrics[models.MetricError], "connection refused")
	assert.Equal(t, models.LastScanStatusFailed, f.sources.statusOf(reg.ID))
}

type busyLocker struct{}

func (busyLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (lock.ReleaseFunc, error) {
	return nil, apperrors.ErrScanInProgress
}

func TestScanner_ScanSource_LockHeld(t *testing.T) {
	reg := &models.SourceRegistration{Name: "crm", DBType: models.SourceTypePostgres, Host: "crm.internal", Port: 5432, DatabaseName: "crm", Active: true}
	f := newScannerFixture(t, &fakeFactory{}, testScannerConfig(), busyLocker{}, reg)

	result, err := f.scanner.ScanSource(context.Background(), reg)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, apperrors.ErrScanInProgress))
	assert.Empty(t, f.runs.all(), "no run is opened for a skipped source")

	summary, err := f.scanner.ScanAllRegisteredSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"crm"}, summary.Skipped)
}

func TestScanner_ScanAllRegisteredSources_IsolatesSources(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		healthy := &fakeProfiler{
			schemas: []string{"public"},
			tables:  map[string]*fakeTable{"public.customers": customersTable()},
		}
		regs := []*models.SourceRegistration{
			{Name: "a-down", DBType: models.SourceTypePostgres, Host: "down.internal", Port: 5432, DatabaseName: "x", Active: true},
			{Name: "b-crm", DBType: models.SourceTypePostgres, Host: "crm.internal", Port: 5432, DatabaseName: "crm", Active: true},
			{Name: "c-off", DBType: models.SourceTypePostgres, Host: "crm.internal", Port: 5432, DatabaseName: "crm", Active: false},
		}
		cfg := testScannerConfig()
		cfg.SourceConcurrency = concurrency
		f := newScannerFixture(t, &fakeFactory{profilers: map[string]*fakeProfiler{"crm.internal": healthy}}, cfg, nil, regs...)

		summary, err := f.scanner.ScanAllRegisteredSources(context.Background())
		require.NoError(t, err)

		require.Len(t, summary.Sources, 2)
		assert.Equal(t, "a-down", summary.Sources[0].SourceSystem)
		assert.True(t, summary.Sources[0].Failed())
		assert.Equal(t, "b-crm", summary.Sources[1].SourceSystem)
		assert.False(t, summary.Sources[1].Failed())
		assert.Equal(t, 1, summary.FailedSources)
		assert.Nil(t, summary.LocalRun)

		runs := f.runs.all()
		require.Len(t, runs, 2, "one run per active source")
		assert.Equal(t, models.ScanRunFailed, runs[0].Status)
		assert.Equal(t, models.ScanRunSuccess, runs[1].Status)
	}
}

func TestScanner_ScanAllRegisteredSources_NoSources(t *testing.T) {
	f := newScannerFixture(t, &fakeFactory{}, testScannerConfig(), nil)

	summary, err := f.scanner.ScanAllRegisteredSources(context.Background())
	require.NoError(t, err)

	require.NotNil(t, summary.LocalRun)
	assert.Empty(t, summary.Sources)

	runs := f.runs.all()
	require.Len(t, runs, 1)
	assert.Equal(t, "local", runs[0].SourceSystem)
	assert.Nil(t, runs[0].SourceDBID)
	assert.Equal(t, models.ScanRunSuccess, runs[0].Status)
	assert.Equal(t, 0, runs[0].Metrics[models.MetricTotalTables])
	assert.NotEmpty(t, runs[0].Metrics[models.MetricWarning])
}

func TestScanner_PersistCandidates(t *testing.T) {
	f := newScannerFixture(t, &fakeFactory{}, testScannerConfig(), nil)
	profiles := []*models.TableProfile{
		{SchemaName: "public", TableName: "tbl_customers", RowCount: 2, Sample: models.Attributes{"email": "a@x.com"}},
		{SchemaName: "public", TableName: "orders", RowCount: 0},
	}

	require.NoError(t, f.scanner.PersistCandidates(context.Background(), profiles))

	candidates, err := f.candidates.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
	assert.Equal(t, "customer", f.candidates.candidates["public.tbl_customers"].GuessType)
	assert.Equal(t, "order", f.candidates.candidates["public.orders"].GuessType)

	obj, err := f.objects.GetBySource(context.Background(), "scanner", "temp:public.tbl_customers", "customer")
	require.NoError(t, err)
	assert.Equal(t, sha1Of("scanner|temp:public.tbl_customers|customer"), obj.GoldenID)
	assert.Equal(t, "a@x.com", obj.Attributes["email"])
	assert.Equal(t, 1, f.objects.count(), "unsampled tables get no object")

	// Re-persisting is idempotent.
	require.NoError(t, f.scanner.PersistCandidates(context.Background(), profiles))
	assert.Equal(t, 1, f.objects.count())
}

func TestScanner_PersistCandidates_ContinuesPastFailures(t *testing.T) {
	f := newScannerFixture(t, &fakeFactory{}, testScannerConfig(), nil)
	f.objects.upsertErr = errors.New("duplicate key value violates unique constraint")
	profiles := []*models.TableProfile{
		{SchemaName: "public", TableName: "customers", RowCount: 1, Sample: models.Attributes{"id": int64(1)}},
		{SchemaName: "public", TableName: "vendors", RowCount: 1, Sample: models.Attributes{"id": int64(1)}},
	}

	err := f.scanner.PersistCandidates(context.Background(), profiles)
	require.Error(t, err)

	candidates, listErr := f.candidates.List(context.Background())
	require.NoError(t, listErr)
	assert.Len(t, candidates, 2)
}

func newSQLiteSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, email TEXT, phone TEXT)`,
		`INSERT INTO customers (email, phone) VALUES ('Ann@X.com', '(555) 010-0001'), ('bob@y.org', NULL), ('ann@x.com', '555 010 0001')`,
		`CREATE TABLE empty_invoices (id INTEGER, total REAL)`,
		`CREATE TABLE tmp_import (raw TEXT)`,
		`CREATE TABLE engine_shadow (x INTEGER)`,
		`CREATE VIEW customer_emails AS SELECT email FROM customers`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

func TestScanner_ScanSource_SQLite(t *testing.T) {
	reg := &models.SourceRegistration{
		Name:           "shop",
		DBType:         models.SourceTypeSQLite,
		DatabaseName:   newSQLiteSource(t),
		TableBlacklist: []string{"tmp_%"},
		Active:         true,
	}
	f := newScannerFixture(t, datasource.NewProfilerFactory(nil, zap.NewNop()), testScannerConfig(), nil, reg)

	result, err := f.scanner.ScanSource(context.Background(), reg)
	require.NoError(t, err)
	require.Empty(t, result.Failures)
	require.Len(t, result.Profiles, 2)

	byName := make(map[string]*models.TableProfile)
	for _, p := range result.Profiles {
		byName[p.TableName] = p
	}

	customers := byName["customers"]
	require.NotNil(t, customers)
	assert.Equal(t, int64(3), customers.RowCount)
	for _, col := range customers.Columns {
		if col.ColumnName == "phone" {
			require.NotNil(t, col.NullCount)
			assert.Equal(t, int64(1), *col.NullCount)
			require.NotNil(t, col.NullRate)
			assert.InDelta(t, 1.0/3.0, *col.NullRate, 1e-9)
		}
	}
	assert.NotNil(t, customers.SampleHash)

	invoices := byName["empty_invoices"]
	require.NotNil(t, invoices)
	for _, col := range invoices.Columns {
		assert.Nil(t, col.NullRate)
	}

	_, err = f.objects.GetBySource(context.Background(), "scanner", "temp:main.customers", "customer")
	require.NoError(t, err)
	assert.Equal(t, "empty_invoice", f.candidates.candidates["main.empty_invoices"].GuessType)
}
