package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

// Test key generated with: openssl rand -base64 32
const testEncryptionKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

// mockRuleRepository keeps rules in memory.
type mockRuleRepository struct {
	rules   map[string]*models.IdentityRule
	listErr error
}

func newMockRuleRepository(rules ...*models.IdentityRule) *mockRuleRepository {
	m := &mockRuleRepository{rules: make(map[string]*models.IdentityRule)}
	for _, r := range rules {
		m.rules[r.RuleID] = r
	}
	return m
}

func (m *mockRuleRepository) sorted() []*models.IdentityRule {
	out := make([]*models.IdentityRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

func (m *mockRuleRepository) ListActive(ctx context.Context, objectType, sourceSystem string) ([]*models.IdentityRule, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.IdentityRule
	for _, r := range m.sorted() {
		if r.Active && r.ObjectType == objectType && r.SourceSystem == sourceSystem {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepository) Create(ctx context.Context, rule *models.IdentityRule) error {
	if _, ok := m.rules[rule.RuleID]; ok {
		return fmt.Errorf("create identity rule: %w", apperrors.ErrConflict)
	}
	m.rules[rule.RuleID] = rule
	return nil
}

func (m *mockRuleRepository) Upsert(ctx context.Context, rule *models.IdentityRule) error {
	m.rules[rule.RuleID] = rule
	return nil
}

func (m *mockRuleRepository) Get(ctx context.Context, ruleID string) (*models.IdentityRule, error) {
	r, ok := m.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", ruleID, apperrors.ErrNotFound)
	}
	return r, nil
}

func (m *mockRuleRepository) List(ctx context.Context, includeInactive bool) ([]*models.IdentityRule, error) {
	var out []*models.IdentityRule
	for _, r := range m.sorted() {
		if r.Active || includeInactive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepository) SetActive(ctx context.Context, ruleID string, active bool) error {
	r, ok := m.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule %s: %w", ruleID, apperrors.ErrNotFound)
	}
	r.Active = active
	return nil
}

// mockGoldenObjectRepository upserts by source tuple like the real table.
type mockGoldenObjectRepository struct {
	mu        sync.Mutex
	objects   map[string]*models.GoldenObject
	upsertErr error
}

func newMockGoldenObjectRepository() *mockGoldenObjectRepository {
	return &mockGoldenObjectRepository{objects: make(map[string]*models.GoldenObject)}
}

func sourceKey(sourceSystem, sourceID, objectType string) string {
	return sourceSystem + "\x00" + sourceID + "\x00" + objectType
}

func (m *mockGoldenObjectRepository) Upsert(ctx context.Context, obj *models.GoldenObject) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	key := sourceKey(obj.SourceSystem, obj.SourceID, obj.ObjectType)
	_, exists := m.objects[key]
	stored := *obj
	m.objects[key] = &stored
	return !exists, nil
}

func (m *mockGoldenObjectRepository) GetBySource(ctx context.Context, sourceSystem, sourceID, objectType string) (*models.GoldenObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[sourceKey(sourceSystem, sourceID, objectType)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return obj, nil
}

func (m *mockGoldenObjectRepository) ListByGoldenID(ctx context.Context, goldenID string) ([]*models.GoldenObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GoldenObject
	for _, obj := range m.objects {
		if obj.GoldenID == goldenID {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (m *mockGoldenObjectRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// mockSourceRepository keeps registrations in memory.
type mockSourceRepository struct {
	mu      sync.Mutex
	sources map[uuid.UUID]*models.SourceRegistration
	listErr error

	capturedSealed *string
	scanResults    map[uuid.UUID]string
	scanErrors     map[uuid.UUID]*string
}

func newMockSourceRepository(regs ...*models.SourceRegistration) *mockSourceRepository {
	m := &mockSourceRepository{
		sources:     make(map[uuid.UUID]*models.SourceRegistration),
		scanResults: make(map[uuid.UUID]string),
		scanErrors:  make(map[uuid.UUID]*string),
	}
	for _, r := range regs {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		m.sources[r.ID] = r
	}
	return m
}

func (m *mockSourceRepository) Create(ctx context.Context, reg *models.SourceRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sources {
		if existing.Name == reg.Name {
			return fmt.Errorf("source %s: %w", reg.Name, apperrors.ErrConflict)
		}
	}
	reg.ID = uuid.New()
	reg.Active = true
	reg.CreatedAt = time.Now()
	reg.UpdatedAt = reg.CreatedAt
	stored := *reg
	m.sources[reg.ID] = &stored
	return nil
}

func (m *mockSourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SourceRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
	}
	out := *reg
	return &out, nil
}

func (m *mockSourceRepository) GetByName(ctx context.Context, name string) (*models.SourceRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.sources {
		if reg.Name == name {
			out := *reg
			return &out, nil
		}
	}
	return nil, fmt.Errorf("source %s: %w", name, apperrors.ErrNotFound)
}

func (m *mockSourceRepository) List(ctx context.Context) ([]*models.SourceRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*models.SourceRegistration, 0, len(m.sources))
	for _, reg := range m.sources {
		c := *reg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockSourceRepository) ListActive(ctx context.Context) ([]*models.SourceRegistration, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.SourceRegistration
	for _, reg := range all {
		if reg.Active {
			out = append(out, reg)
		}
	}
	return out, nil
}

func (m *mockSourceRepository) Update(ctx context.Context, id uuid.UUID, upd *models.SourceUpdate, sealedPassword *string) (*models.SourceRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.sources[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
	}
	updated := applyUpdate(*reg, upd)
	if sealedPassword != nil {
		updated.Password = *sealedPassword
	}
	m.capturedSealed = sealedPassword
	m.sources[id] = &updated
	out := updated
	return &out, nil
}

func (m *mockSourceRepository) RecordScanResult(ctx context.Context, id uuid.UUID, status string, scanErr *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanResults[id] = status
	m.scanErrors[id] = scanErr
	return nil
}

func (m *mockSourceRepository) statusOf(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanResults[id]
}

// mockScanRunRepository enforces the single terminal transition.
type mockScanRunRepository struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]*models.ScanRun
	createErr error
}

func newMockScanRunRepository() *mockScanRunRepository {
	return &mockScanRunRepository{runs: make(map[uuid.UUID]*models.ScanRun)}
}

func (m *mockScanRunRepository) Create(ctx context.Context, run *models.ScanRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	run.ID = uuid.New()
	run.Status = models.ScanRunPending
	run.StartedAt = time.Now()
	stored := *run
	m.runs[run.ID] = &stored
	return nil
}

func (m *mockScanRunRepository) Finish(ctx context.Context, run *models.ScanRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("finish scan run %s: %w", run.ID, apperrors.ErrConflict)
	}
	now := time.Now()
	run.EndedAt = &now
	c := *run
	m.runs[run.ID] = &c
	return nil
}

func (m *mockScanRunRepository) Get(ctx context.Context, id uuid.UUID) (*models.ScanRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *run
	return &c, nil
}

func (m *mockScanRunRepository) all() []*models.ScanRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ScanRun, 0, len(m.runs))
	for _, r := range m.runs {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceSystem < out[j].SourceSystem })
	return out
}

type mockProfileRepository struct {
	mu        sync.Mutex
	profiles  []*models.TableProfile
	upsertErr error
}

func (m *mockProfileRepository) UpsertTableProfile(ctx context.Context, p *models.TableProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.profiles = append(m.profiles, p)
	return nil
}

func (m *mockProfileRepository) ListByRun(ctx context.Context, scanRunID uuid.UUID) ([]*models.TableProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TableProfile
	for _, p := range m.profiles {
		if p.ScanRunID == scanRunID {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockCandidateRepository struct {
	mu         sync.Mutex
	candidates map[string]*models.ObjectCandidate
	upsertErr  error
}

func newMockCandidateRepository() *mockCandidateRepository {
	return &mockCandidateRepository{candidates: make(map[string]*models.ObjectCandidate)}
}

func (m *mockCandidateRepository) Upsert(ctx context.Context, c *models.ObjectCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	c.UpdatedAt = time.Now()
	stored := *c
	m.candidates[c.SchemaName+"."+c.TableName] = &stored
	return nil
}

func (m *mockCandidateRepository) List(ctx context.Context) ([]*models.ObjectCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ObjectCandidate, 0, len(m.candidates))
	for _, c := range m.candidates {
		out = append(out, c)
	}
	return out, nil
}

// fakeTable is an in-memory table served by fakeProfiler.
type fakeTable struct {
	columns []datasource.ColumnMetadata
	rows    []map[string]any
	// failColumns makes AnalyzeColumn fail for the named columns.
	failColumns map[string]bool
	countErr    error
}

// fakeProfiler serves fakeTables keyed by "schema.table".
type fakeProfiler struct {
	schemas      []string
	tables       map[string]*fakeTable
	listErr      error
	discoverErr  map[string]error
	closed       bool
	analyzeCalls int
}

func (p *fakeProfiler) ListSchemas(ctx context.Context) ([]string, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.schemas, nil
}

func (p *fakeProfiler) DiscoverTables(ctx context.Context, schema string) ([]datasource.TableRef, error) {
	if err := p.discoverErr[schema]; err != nil {
		return nil, err
	}
	var refs []datasource.TableRef
	for key := range p.tables {
		ref := splitRef(key)
		if ref.Schema == schema {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func (p *fakeProfiler) table(ref datasource.TableRef) (*fakeTable, error) {
	t, ok := p.tables[ref.String()]
	if !ok {
		return nil, fmt.Errorf("relation %s does not exist", ref)
	}
	return t, nil
}

func (p *fakeProfiler) DiscoverColumns(ctx context.Context, ref datasource.TableRef) ([]datasource.ColumnMetadata, error) {
	t, err := p.table(ref)
	if err != nil {
		return nil, err
	}
	return t.columns, nil
}

func (p *fakeProfiler) CountRows(ctx context.Context, ref datasource.TableRef) (int64, error) {
	t, err := p.table(ref)
	if err != nil {
		return 0, err
	}
	if t.countErr != nil {
		return 0, t.countErr
	}
	return int64(len(t.rows)), nil
}

func (p *fakeProfiler) AnalyzeColumn(ctx context.Context, ref datasource.TableRef, column string) (*datasource.ColumnStats, error) {
	p.analyzeCalls++
	t, err := p.table(ref)
	if err != nil {
		return nil, err
	}
	if t.failColumns[column] {
		return nil, fmt.Errorf("operator does not exist for column %s", column)
	}
	distinct := make(map[string]bool)
	var nulls int64
	for _, row := range t.rows {
		v, ok := row[column]
		if !ok || v == nil {
			nulls++
			continue
		}
		distinct[fmt.Sprint(v)] = true
	}
	return &datasource.ColumnStats{DistinctCount: int64(len(distinct)), NullCount: nulls}, nil
}

func (p *fakeProfiler) SampleRow(ctx context.Context, ref datasource.TableRef) (map[string]any, error) {
	t, err := p.table(ref)
	if err != nil {
		return nil, err
	}
	if len(t.rows) == 0 {
		return nil, nil
	}
	return t.rows[0], nil
}

func (p *fakeProfiler) ReadRows(ctx context.Context, ref datasource.TableRef, limit int, fn datasource.RowFunc) error {
	t, err := p.table(ref)
	if err != nil {
		return err
	}
	for i, row := range t.rows {
		if limit > 0 && i >= limit {
			return nil
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakeProfiler) Close() error {
	p.closed = true
	return nil
}

func splitRef(key string) datasource.TableRef {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return datasource.TableRef{Schema: key[:i], Name: key[i+1:]}
		}
	}
	return datasource.TableRef{Name: key}
}

// fakeFactory hands out profilers by registration host.
type fakeFactory struct {
	mu        sync.Mutex
	profilers map[string]*fakeProfiler
	targets   []*datasource.ConnectionTarget
}

func (f *fakeFactory) NewProfiler(ctx context.Context, target *datasource.ConnectionTarget) (datasource.SourceProfiler, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	p, ok := f.profilers[target.Host]
	if !ok {
		return nil, fmt.Errorf("dial tcp %s:%d: connect: connection refused", target.Host, target.Port)
	}
	return datasource.NewCatalogGuard(p), nil
}

func (f *fakeFactory) ListTypes() []datasource.AdapterInfo {
	return []datasource.AdapterInfo{{Type: models.SourceTypePostgres, DisplayName: "PostgreSQL"}}
}
