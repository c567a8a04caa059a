package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/logging"
	"github.com/ekaya-inc/golden-engine/pkg/metrics"
	"github.com/ekaya-inc/golden-engine/pkg/models"
	"github.com/ekaya-inc/golden-engine/pkg/repositories"
)

// ScanRunTracker records the PENDING -> SUCCESS | FAILED lifecycle of scan runs.
type ScanRunTracker interface {
	// Open records a PENDING run before any scanning begins.
	Open(ctx context.Context, sourceSystem string, sourceDBID *uuid.UUID) (*models.ScanRun, error)

	// Complete closes run as SUCCESS with the given aggregate metrics.
	Complete(ctx context.Context, run *models.ScanRun, runMetrics map[string]any) error

	// Fail closes run as FAILED. The sanitized cause is stored under "error".
	Fail(ctx context.Context, run *models.ScanRun, cause error, runMetrics map[string]any) error

	// Get returns a recorded run.
	Get(ctx context.Context, id uuid.UUID) (*models.ScanRun, error)
}

type scanRunTracker struct {
	repo    repositories.ScanRunRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewScanRunTracker creates a tracker. m may be nil.
func NewScanRunTracker(repo repositories.ScanRunRepository, m *metrics.Metrics, logger *zap.Logger) ScanRunTracker {
	return &scanRunTracker{
		repo:    repo,
		metrics: m,
		logger:  logger.Named("scan-runs"),
	}
}

var _ ScanRunTracker = (*scanRunTracker)(nil)

func (t *scanRunTracker) Open(ctx context.Context, sourceSystem string, sourceDBID *uuid.UUID) (*models.ScanRun, error) {
	run := &models.ScanRun{
		SourceSystem: sourceSystem,
		SourceDBID:   sourceDBID,
		Metrics:      map[string]any{},
	}
	if err := t.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("open scan run: %w", err)
	}
	t.logger.Info("Opened scan run",
		zap.String("scan_run_id", run.ID.String()),
		zap.String("source_system", sourceSystem))
	return run, nil
}

func (t *scanRunTracker) Complete(ctx context.Context, run *models.ScanRun, runMetrics map[string]any) error {
	return t.finish(ctx, run, models.ScanRunSuccess, runMetrics)
}

func (t *scanRunTracker) Fail(ctx context.Context, run *models.ScanRun, cause error, runMetrics map[string]any) error {
	m := make(map[string]any, len(runMetrics)+1)
	for k, v := range runMetrics {
		m[k] = v
	}
	if cause != nil {
		m[models.MetricError] = logging.TruncateString(logging.SanitizeError(cause), maxScanErrorLength)
	}
	return t.finish(ctx, run, models.ScanRunFailed, m)
}

func (t *scanRunTracker) Get(ctx context.Context, id uuid.UUID) (*models.ScanRun, error) {
	run, err := t.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get scan run %s: %w", id, err)
	}
	return run, nil
}

func (t *scanRunTracker) finish(ctx context.Context, run *models.ScanRun, status models.ScanRunStatus, runMetrics map[string]any) error {
	if run.Status.IsTerminal() {
		return fmt.Errorf("close scan run %s: already %s", run.ID, run.Status)
	}

	closing := *run
	closing.Status = status
	closing.Metrics = runMetrics
	if closing.Metrics == nil {
		closing.Metrics = map[string]any{}
	}
	if err := t.repo.Finish(ctx, &closing); err != nil {
		return fmt.Errorf("close scan run: %w", err)
	}
	*run = closing

	t.metrics.ScanRunClosed(string(status))
	t.logger.Info("Closed scan run",
		zap.String("scan_run_id", run.ID.String()),
		zap.String("source_system", run.SourceSystem),
		zap.String("status", string(status)),
		zap.Any("metrics", run.Metrics))
	return nil
}
