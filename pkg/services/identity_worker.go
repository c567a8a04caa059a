package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
	"github.com/ekaya-inc/golden-engine/pkg/audit"
	"github.com/ekaya-inc/golden-engine/pkg/jsonutil"
	"github.com/ekaya-inc/golden-engine/pkg/logging"
	"github.com/ekaya-inc/golden-engine/pkg/metrics"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

const maxPreviewRows = 50

// ResolveTableRequest selects a source table to fold into golden objects.
type ResolveTableRequest struct {
	SourceDBID uuid.UUID
	Schema     string
	Table      string
	ObjectType string
	// SourceSystem defaults to the registration name.
	SourceSystem string
	// IDColumn holds each row's source id. Rows where it is empty get "<IDPrefix>-<n>".
	IDColumn string
	// IDPrefix defaults to the upper-cased table name.
	IDPrefix string
	// Limit caps the rows read; 0 reads the whole table.
	Limit int
	// DryRun computes golden ids without writing anything.
	DryRun bool
}

// ResolvedRow previews one dry-run resolution.
type ResolvedRow struct {
	SourceID string `json:"source_id"`
	GoldenID string `json:"golden_id"`
}

// ResolveStats summarizes a ResolveTable batch. In dry-run mode Created counts
// rows that would be written.
type ResolveStats struct {
	Processed int           `json:"processed"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Errors    int           `json:"errors"`
	Fallback  int           `json:"fallback"`
	Preview   []ResolvedRow `json:"preview,omitempty"`
}

// IdentityWorker resolves every row of a source table through the identity engine.
type IdentityWorker interface {
	// ResolveTable reads the table and matches each row. Per-row failures are
	// counted in the stats and never abort the batch.
	ResolveTable(ctx context.Context, req ResolveTableRequest) (*ResolveStats, error)
}

type identityWorker struct {
	sources  SourceService
	factory  datasource.ProfilerFactory
	identity IdentityService
	metrics  *metrics.Metrics
	auditor  *audit.SecurityAuditor
	logger   *zap.Logger
}

// NewIdentityWorker creates an identity worker. m may be nil.
func NewIdentityWorker(
	sources SourceService,
	factory datasource.ProfilerFactory,
	identity IdentityService,
	m *metrics.Metrics,
	logger *zap.Logger,
) IdentityWorker {
	return &identityWorker{
		sources:  sources,
		factory:  factory,
		identity: identity,
		metrics:  m,
		auditor:  audit.NewSecurityAuditor(logger),
		logger:   logger.Named("identity-worker"),
	}
}

var _ IdentityWorker = (*identityWorker)(nil)

func (w *identityWorker) ResolveTable(ctx context.Context, req ResolveTableRequest) (*ResolveStats, error) {
	if req.Table == "" || req.ObjectType == "" {
		return nil, fmt.Errorf("table and object_type are required")
	}

	reg, err := w.sources.Get(ctx, req.SourceDBID)
	if err != nil {
		return nil, err
	}
	if req.SourceSystem == "" {
		req.SourceSystem = reg.Name
	}
	if req.IDPrefix == "" {
		req.IDPrefix = strings.ToUpper(req.Table)
	}

	target, err := w.sources.BuildConnectionTarget(reg)
	if err != nil {
		return nil, err
	}
	profiler, err := w.factory.NewProfiler(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("connect to source: %w", err)
	}
	defer func() {
		if err := profiler.Close(); err != nil {
			w.logger.Warn("Failed to close profiler", zap.Error(err))
		}
	}()

	ref, err := w.lookupTable(ctx, profiler, req)
	if err != nil {
		return nil, err
	}

	var rule *models.IdentityRule
	if req.DryRun {
		if rule, err = w.identity.SelectRule(ctx, req.ObjectType, req.SourceSystem); err != nil {
			return nil, err
		}
	}

	w.logger.Info("Resolving table",
		zap.String("source", reg.Name),
		zap.String("table", ref.String()),
		zap.String("object_type", req.ObjectType),
		zap.String("source_system", req.SourceSystem),
		zap.Bool("dry_run", req.DryRun))

	stats := &ResolveStats{}
	err = profiler.ReadRows(ctx, ref, req.Limit, func(row map[string]any) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.Processed++

		attrs := models.NewAttributes(row)
		sourceID := ""
		if req.IDColumn != "" {
			sourceID = strings.TrimSpace(jsonutil.StringValue(attrs[req.IDColumn]))
		}
		if sourceID == "" {
			sourceID = fmt.Sprintf("%s-%d", req.IDPrefix, stats.Processed)
		}

		if req.DryRun {
			result := resolveGoldenID(rule, req.SourceSystem, sourceID, req.ObjectType, attrs)
			stats.Created++
			if result.Fallback {
				stats.Fallback++
			}
			if len(stats.Preview) < maxPreviewRows {
				stats.Preview = append(stats.Preview, ResolvedRow{SourceID: sourceID, GoldenID: result.GoldenID})
			}
			return nil
		}

		result, err := w.identity.MatchAndUpsert(ctx, req.SourceSystem, sourceID, req.ObjectType, attrs)
		if err != nil {
			stats.Errors++
			w.metrics.RowResolved(false)
			w.logger.Error("Failed to resolve row",
				zap.String("source_id", sourceID),
				zap.String("error", logging.SanitizeError(err)))
			return nil
		}
		w.metrics.RowResolved(true)
		if result.Created {
			stats.Created++
		} else {
			stats.Updated++
		}
		if result.Fallback {
			stats.Fallback++
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return stats, fmt.Errorf("read %s: %w", ref, err)
	}

	w.logger.Info("Resolved table",
		zap.String("table", ref.String()),
		zap.Int("processed", stats.Processed),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("errors", stats.Errors),
		zap.Int("fallback", stats.Fallback))

	return stats, err
}

// lookupTable resolves the request against the discovered catalog, so the
// guarded profiler will accept the table and id column.
func (w *identityWorker) lookupTable(ctx context.Context, profiler datasource.SourceProfiler, req ResolveTableRequest) (datasource.TableRef, error) {
	schema := req.Schema
	if schema == "" {
		schemas, err := profiler.ListSchemas(ctx)
		if err != nil {
			return datasource.TableRef{}, fmt.Errorf("list schemas: %w", err)
		}
		if len(schemas) != 1 {
			return datasource.TableRef{}, fmt.Errorf("%w: schema is required when the source has %d schemas",
				apperrors.ErrIdentifierNotAllowed, len(schemas))
		}
		schema = schemas[0]
	}

	tables, err := profiler.DiscoverTables(ctx, schema)
	if err != nil {
		return datasource.TableRef{}, fmt.Errorf("discover tables in %s: %w", schema, err)
	}
	var ref datasource.TableRef
	for _, t := range tables {
		if t.Name == req.Table {
			ref = t
			break
		}
	}
	if ref.Name == "" {
		w.auditor.LogIdentifierRejected(req.SourceDBID, schema+"."+req.Table, "table not in catalog")
		return datasource.TableRef{}, fmt.Errorf("%w: table %s.%s not found", apperrors.ErrIdentifierNotAllowed, schema, req.Table)
	}

	columns, err := profiler.DiscoverColumns(ctx, ref)
	if err != nil {
		return datasource.TableRef{}, fmt.Errorf("discover columns of %s: %w", ref, err)
	}
	if req.IDColumn != "" {
		found := false
		for _, c := range columns {
			if c.ColumnName == req.IDColumn {
				found = true
				break
			}
		}
		if !found {
			w.auditor.LogIdentifierRejected(req.SourceDBID, req.IDColumn, "column not in "+ref.String())
			return datasource.TableRef{}, fmt.Errorf("%w: column %s not in %s", apperrors.ErrIdentifierNotAllowed, req.IDColumn, ref)
		}
	}
	return ref, nil
}
