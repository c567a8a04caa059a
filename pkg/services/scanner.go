package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/golden-engine/pkg/config"
	"github.com/ekaya-inc/golden-engine/pkg/jsonutil"
	"github.com/ekaya-inc/golden-engine/pkg/lock"
	"github.com/ekaya-inc/golden-engine/pkg/logging"
	"github.com/ekaya-inc/golden-engine/pkg/metrics"
	"github.com/ekaya-inc/golden-engine/pkg/models"
	"github.com/ekaya-inc/golden-engine/pkg/repositories"
	"github.com/ekaya-inc/golden-engine/pkg/services/workqueue"
)

// lockGrace is added to the source timeout to size the scan lock TTL.
const lockGrace = time.Minute

// ScannerService discovers and profiles tables across registered sources.
type ScannerService interface {
	// EnumerateTables returns the base tables of schema not matched by patterns
	// or the internal table prefix.
	EnumerateTables(ctx context.Context, profiler datasource.SourceProfiler, schema string, patterns []string) ([]datasource.TableRef, error)

	// ProfileTable computes exact row and per-column statistics. Column failures
	// leave that column's statistics nil; only table-level failures are returned.
	ProfileTable(ctx context.Context, profiler datasource.SourceProfiler, table datasource.TableRef) (*models.TableProfile, error)

	// ScanSource profiles every non-blacklisted table of one registration under its own scan run.
	ScanSource(ctx context.Context, reg *models.SourceRegistration) (*SourceScanResult, error)

	// ScanAllRegisteredSources scans every active registration. Source failures are
	// isolated and reported in the summary.
	ScanAllRegisteredSources(ctx context.Context) (*ScanSummary, error)

	// PersistCandidates upserts an object candidate per profile and a scanner golden
	// object per sampled profile. Failures are per table and joined into the result.
	PersistCandidates(ctx context.Context, profiles []*models.TableProfile) error

	// ShowRun returns a recorded run with the table profiles it stored.
	ShowRun(ctx context.Context, runID uuid.UUID) (*RunReport, error)
}

// RunReport is a stored scan run and its profiles.
type RunReport struct {
	Run      *models.ScanRun        `json:"run"`
	Profiles []*models.TableProfile `json:"profiles"`
}

// TableFailure records a table (or a whole schema, when Table.Name is empty)
// that could not be profiled.
type TableFailure struct {
	Table datasource.TableRef `json:"table"`
	Error string              `json:"error"`
}

// SourceScanResult is the outcome of scanning one source.
type SourceScanResult struct {
	SourceSystem string                 `json:"source_system"`
	SourceDBID   *uuid.UUID             `json:"source_db_id,omitempty"`
	Run          *models.ScanRun        `json:"run"`
	Profiles     []*models.TableProfile `json:"profiles"`
	Failures     []TableFailure         `json:"failures"`
	TotalRows    int64                  `json:"total_rows"`
	// Err is the source-level failure, if any.
	Err error `json:"-"`
}

// Failed reports whether the source as a whole failed.
func (r *SourceScanResult) Failed() bool {
	return r.Err != nil
}

// ScanSummary aggregates one ScanAllRegisteredSources invocation.
type ScanSummary struct {
	Sources []*SourceScanResult `json:"sources"`
	// LocalRun is set when no sources were registered.
	LocalRun      *models.ScanRun `json:"local_run,omitempty"`
	FailedSources int             `json:"failed_sources"`
	Skipped       []string        `json:"skipped,omitempty"`
}

type scannerService struct {
	sources    SourceService
	factory    datasource.ProfilerFactory
	tracker    ScanRunTracker
	profiles   repositories.ProfileRepository
	candidates repositories.CandidateRepository
	objects    repositories.GoldenObjectRepository
	locker     lock.Locker
	cfg        config.ScannerConfig
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewScannerService creates the source scanner. locker and m may be nil.
func NewScannerService(
	sources SourceService,
	factory datasource.ProfilerFactory,
	tracker ScanRunTracker,
	profiles repositories.ProfileRepository,
	candidates repositories.CandidateRepository,
	objects repositories.GoldenObjectRepository,
	locker lock.Locker,
	cfg config.ScannerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) ScannerService {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	if cfg.SourceConcurrency < 1 {
		cfg.SourceConcurrency = 1
	}
	return &scannerService{
		sources:    sources,
		factory:    factory,
		tracker:    tracker,
		profiles:   profiles,
		candidates: candidates,
		objects:    objects,
		locker:     locker,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.Named("scanner"),
	}
}

var _ ScannerService = (*scannerService)(nil)

func (s *scannerService) EnumerateTables(ctx context.Context, profiler datasource.SourceProfiler, schema string, patterns []string) ([]datasource.TableRef, error) {
	tables, err := profiler.DiscoverTables(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("discover tables in %s: %w", schema, err)
	}

	kept := make([]datasource.TableRef, 0, len(tables))
	for _, t := range tables {
		if IsBlacklisted(t.Name, patterns, s.cfg.InternalTablePrefix) {
			s.logger.Debug("Skipping blacklisted table", zap.String("table", t.String()))
			continue
		}
		kept = append(kept, t)
	}
	return kept, nil
}

func (s *scannerService) ProfileTable(ctx context.Context, profiler datasource.SourceProfiler, table datasource.TableRef) (*models.TableProfile, error) {
	start := time.Now()
	profile, err := s.profileTable(ctx, profiler, table)
	s.metrics.TableProfiled(err == nil, time.Since(start))
	return profile, err
}

func (s *scannerService) profileTable(ctx context.Context, profiler datasource.SourceProfiler, table datasource.TableRef) (*models.TableProfile, error) {
	if s.cfg.TableTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TableTimeout)
		defer cancel()
	}

	columns, err := profiler.DiscoverColumns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("discover columns of %s: %w", table, err)
	}

	rowCount, err := profiler.CountRows(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("count rows of %s: %w", table, err)
	}

	profile := &models.TableProfile{
		SchemaName: table.Schema,
		TableName:  table.Name,
		RowCount:   rowCount,
		Columns:    make([]*models.ColumnProfile, 0, len(columns)),
	}

	for _, col := range columns {
		cp := &models.ColumnProfile{
			ColumnName: col.ColumnName,
			DataType:   col.DataType,
			RowCount:   rowCount,
		}
		stats, err := profiler.AnalyzeColumn(ctx, table, col.ColumnName)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("profile %s: %w", table, ctx.Err())
			}
			s.metrics.ColumnFailed()
			s.logger.Warn("Column statistics unknown",
				zap.String("table", table.String()),
				zap.String("column", col.ColumnName),
				zap.String("error", logging.SanitizeError(err)))
		} else {
			distinct, nulls := stats.DistinctCount, stats.NullCount
			cp.DistinctCount = &distinct
			cp.NullCount = &nulls
			if rowCount > 0 {
				rate := float64(nulls) / float64(rowCount)
				cp.NullRate = &rate
			}
		}
		profile.Columns = append(profile.Columns, cp)
	}

	if rowCount > 0 {
		row, err := profiler.SampleRow(ctx, table)
		switch {
		case err != nil:
			s.logger.Warn("Could not sample table",
				zap.String("table", table.String()),
				zap.String("error", logging.SanitizeError(err)))
		case row != nil:
			profile.Sample = models.NewAttributes(row)
			hash := SampleHash(profile.Sample)
			profile.SampleHash = &hash
		}
	}

	return profile, nil
}

// SampleHash is the SHA-256 hex digest of a sample row rendered as
// "column=value" pairs sorted by column and joined with the unit separator.
func SampleHash(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + jsonutil.StringValue(row[k])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

func (s *scannerService) ScanSource(ctx context.Context, reg *models.SourceRegistration) (*SourceScanResult, error) {
	release, err := s.locker.TryAcquire(ctx, reg.ID.String(), s.cfg.SourceTimeout+lockGrace)
	if err != nil {
		return nil, fmt.Errorf("scan source %s: %w", reg.Name, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release scan lock", zap.String("source", reg.Name), zap.Error(err))
		}
	}()

	sourceID := reg.ID
	result := &SourceScanResult{
		SourceSystem: reg.Name,
		SourceDBID:   &sourceID,
		Profiles:     []*models.TableProfile{},
		Failures:     []TableFailure{},
	}

	run, err := s.tracker.Open(ctx, reg.Name, &sourceID)
	if err != nil {
		return nil, err
	}
	result.Run = run
	if run.Metrics == nil {
		run.Metrics = map[string]any{}
	}

	s.logger.Info("Scanning source",
		zap.String("source", reg.Name),
		zap.String("db_type", reg.DBType),
		zap.String("scan_run_id", run.ID.String()))

	sctx := ctx
	if s.cfg.SourceTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, s.cfg.SourceTimeout)
		defer cancel()
	}
	result.Err = s.scanTables(sctx, reg, run, result)

	// Bookkeeping outlives the source deadline.
	bctx := context.WithoutCancel(ctx)

	if len(result.Profiles) > 0 {
		if err := s.PersistCandidates(bctx, result.Profiles); err != nil {
			s.logger.Warn("Some candidates were not persisted",
				zap.String("source", reg.Name),
				zap.Error(err))
			run.Metrics[models.MetricWarning] = logging.TruncateString(logging.SanitizeError(err), maxScanErrorLength)
		}
	}

	runMetrics := s.runMetrics(result, run.Metrics)
	status := models.LastScanStatusSuccess
	if result.Err != nil {
		status = models.LastScanStatusFailed
		s.logger.Error("Source scan failed",
			zap.String("source", reg.Name),
			zap.String("error", logging.SanitizeError(result.Err)))
		if err := s.tracker.Fail(bctx, run, result.Err, runMetrics); err != nil {
			s.logger.Error("Failed to close scan run", zap.Error(err))
		}
	} else if err := s.tracker.Complete(bctx, run, runMetrics); err != nil {
		s.logger.Error("Failed to close scan run", zap.Error(err))
	}

	if err := s.sources.RecordScanResult(bctx, reg.ID, status, result.Err); err != nil {
		s.logger.Error("Failed to record scan result on source",
			zap.String("source", reg.Name),
			zap.Error(err))
	}
	s.metrics.SourceScanned(reg.DBType, result.Err == nil)

	s.logger.Info("Scanned source",
		zap.String("source", reg.Name),
		zap.Int("tables", len(result.Profiles)),
		zap.Int("failed_tables", len(result.Failures)),
		zap.Int64("total_rows", result.TotalRows))

	return result, result.Err
}

// scanTables returns a source-level error; table errors land in result.Failures.
func (s *scannerService) scanTables(ctx context.Context, reg *models.SourceRegistration, run *models.ScanRun, result *SourceScanResult) error {
	target, err := s.sources.BuildConnectionTarget(reg)
	if err != nil {
		return err
	}

	profiler, err := s.factory.NewProfiler(ctx, target)
	if err != nil {
		return fmt.Errorf("connect to source: %w", err)
	}
	defer func() {
		if err := profiler.Close(); err != nil {
			s.logger.Warn("Failed to close profiler", zap.String("source", reg.Name), zap.Error(err))
		}
	}()

	schemas := reg.Schemas
	if len(schemas) == 0 {
		if schemas, err = profiler.ListSchemas(ctx); err != nil {
			return fmt.Errorf("list schemas: %w", err)
		}
	}

	for _, schema := range schemas {
		if ctx.Err() != nil {
			return fmt.Errorf("source scan interrupted: %w", ctx.Err())
		}

		tables, err := s.EnumerateTables(ctx, profiler, schema, reg.TableBlacklist)
		if err != nil {
			result.Failures = append(result.Failures, s.tableFailure(datasource.TableRef{Schema: schema}, err))
			continue
		}

		for _, table := range tables {
			if ctx.Err() != nil {
				return fmt.Errorf("source scan interrupted: %w", ctx.Err())
			}

			profile, err := s.ProfileTable(ctx, profiler, table)
			if err != nil {
				result.Failures = append(result.Failures, s.tableFailure(table, err))
				continue
			}

			profile.ScanRunID = run.ID
			if err := s.profiles.UpsertTableProfile(context.WithoutCancel(ctx), profile); err != nil {
				result.Failures = append(result.Failures, s.tableFailure(table, err))
				continue
			}

			result.Profiles = append(result.Profiles, profile)
			result.TotalRows += profile.RowCount
			s.logger.Info("Profiled table",
				zap.String("table", table.String()),
				zap.Int64("row_count", profile.RowCount),
				zap.Int("columns", len(profile.Columns)))
		}
	}
	return nil
}

func (s *scannerService) tableFailure(table datasource.TableRef, err error) TableFailure {
	msg := logging.TruncateString(logging.SanitizeError(err), maxScanErrorLength)
	s.logger.Warn("Table profile failed",
		zap.String("table", table.String()),
		zap.String("error", msg))
	return TableFailure{Table: table, Error: msg}
}

func (s *scannerService) runMetrics(result *SourceScanResult, base map[string]any) map[string]any {
	m := make(map[string]any, len(base)+4)
	for k, v := range base {
		m[k] = v
	}
	m[models.MetricTotalTables] = len(result.Profiles)
	m[models.MetricTotalRows] = result.TotalRows
	if len(result.Failures) > 0 {
		failed := make([]any, len(result.Failures))
		for i, f := range result.Failures {
			failed[i] = map[string]any{
				"schema":     f.Table.Schema,
				"table_name": f.Table.Name,
				"error":      f.Error,
			}
		}
		m[models.MetricFailedTables] = failed
	}
	return m
}

func (s *scannerService) ScanAllRegisteredSources(ctx context.Context) (*ScanSummary, error) {
	regs, err := s.sources.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}

	summary := &ScanSummary{Sources: []*SourceScanResult{}}

	if len(regs) == 0 {
		s.logger.Warn("No source databases registered, recording local scan run",
			zap.String("source_system", s.cfg.LocalSourceName))
		run, err := s.tracker.Open(ctx, s.cfg.LocalSourceName, nil)
		if err != nil {
			return nil, err
		}
		if err := s.tracker.Complete(ctx, run, map[string]any{
			models.MetricTotalTables: 0,
			models.MetricTotalRows:   0,
			models.MetricWarning:     "no source databases registered",
		}); err != nil {
			return nil, err
		}
		summary.LocalRun = run
		return summary, nil
	}

	var mu sync.Mutex
	pool := workqueue.New(ctx, s.logger, workqueue.WithConcurrency(s.cfg.SourceConcurrency))

	for _, reg := range regs {
		pool.Go("scan "+reg.Name, func(ctx context.Context) error {
			result, err := s.ScanSource(ctx, reg)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case result == nil && err != nil:
				// Never opened a run: lock held elsewhere or tracker unavailable.
				s.logger.Warn("Skipped source", zap.String("source", reg.Name), zap.Error(err))
				summary.Skipped = append(summary.Skipped, reg.Name)
			default:
				summary.Sources = append(summary.Sources, result)
				if result.Failed() {
					summary.FailedSources++
				}
			}
			return nil
		})
	}

	if err := pool.Wait(ctx); err != nil {
		return summary, fmt.Errorf("scan sources: %w", err)
	}

	sort.Slice(summary.Sources, func(i, j int) bool {
		return summary.Sources[i].SourceSystem < summary.Sources[j].SourceSystem
	})
	sort.Strings(summary.Skipped)

	if summary.FailedSources == 0 && len(summary.Skipped) == 0 {
		s.metrics.ScanSucceeded(time.Now())
	}
	return summary, nil
}

func (s *scannerService) ShowRun(ctx context.Context, runID uuid.UUID) (*RunReport, error) {
	run, err := s.tracker.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list profiles of run %s: %w", runID, err)
	}
	if profiles == nil {
		profiles = []*models.TableProfile{}
	}
	return &RunReport{Run: run, Profiles: profiles}, nil
}

func (s *scannerService) PersistCandidates(ctx context.Context, profiles []*models.TableProfile) error {
	var errs []error
	for _, p := range profiles {
		guess := GuessObjectType(p.TableName)
		ref := datasource.TableRef{Schema: p.SchemaName, Name: p.TableName}

		if err := s.candidates.Upsert(ctx, &models.ObjectCandidate{
			SchemaName: p.SchemaName,
			TableName:  p.TableName,
			GuessType:  guess,
			RowCount:   p.RowCount,
		}); err != nil {
			s.logger.Error("Failed to persist candidate", zap.String("table", ref.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("candidate %s: %w", ref, err))
			continue
		}

		if len(p.Sample) == 0 || p.RowCount == 0 {
			continue
		}

		sourceID := "temp:" + ref.String()
		goldenID := FallbackFingerprint(models.SourceSystemScanner, sourceID, guess)
		if _, err := s.objects.Upsert(ctx, &models.GoldenObject{
			GoldenID:     goldenID,
			SourceSystem: models.SourceSystemScanner,
			SourceID:     sourceID,
			ObjectType:   guess,
			Attributes:   p.Sample,
		}); err != nil {
			s.logger.Warn("Failed to create candidate object", zap.String("table", ref.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("candidate object %s: %w", ref, err))
			continue
		}

		s.logger.Debug("Persisted candidate",
			zap.String("table", ref.String()),
			zap.String("guess_type", guess),
			zap.String("golden_id", goldenID))
	}
	return errors.Join(errs...)
}
