package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
	"github.com/ekaya-inc/golden-engine/pkg/database"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

// ScanRunRepository persists scan runs.
type ScanRunRepository interface {
	// Create inserts a PENDING run.
	Create(ctx context.Context, run *models.ScanRun) error

	// Finish moves a PENDING run to a terminal status. A run that is already
	// terminal yields ErrConflict and is left untouched.
	Finish(ctx context.Context, run *models.ScanRun) error

	Get(ctx context.Context, id uuid.UUID) (*models.ScanRun, error)
}

type scanRunRepository struct {
	db *database.DB
}

// NewScanRunRepository creates a scan run repository.
func NewScanRunRepository(db *database.DB) ScanRunRepository {
	return &scanRunRepository{db: db}
}

var _ ScanRunRepository = (*scanRunRepository)(nil)

func (r *scanRunRepository) Create(ctx context.Context, run *models.ScanRun) error {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = models.ScanRunPending
	if run.Metrics == nil {
		run.Metrics = map[string]any{}
	}

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO engine_scan_runs (scan_run_id, source_system, source_db_id, status, metrics)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING started_at`,
		run.ID, run.SourceSystem, run.SourceDBID, string(run.Status), run.Metrics,
	).Scan(&run.StartedAt)
	if err != nil {
		return wrapError("create scan run", err)
	}
	return nil
}

func (r *scanRunRepository) Finish(ctx context.Context, run *models.ScanRun) error {
	if !run.Status.IsTerminal() {
		return fmt.Errorf("finish scan run %s: status %s is not terminal", run.ID, run.Status)
	}

	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	metrics := run.Metrics
	if metrics == nil {
		metrics = map[string]any{}
	}

	err = scope.Conn.QueryRow(ctx, `
		UPDATE engine_scan_runs
		SET status = $2, ended_at = NOW(), metrics = $3
		WHERE scan_run_id = $1 AND status = 'PENDING'
		RETURNING ended_at`,
		run.ID, string(run.Status), metrics,
	).Scan(&run.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := scope.Conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM engine_scan_runs WHERE scan_run_id = $1)`, run.ID,
		).Scan(&exists); qerr != nil {
			return wrapError("finish scan run", qerr)
		}
		if !exists {
			return fmt.Errorf("finish scan run %s: %w", run.ID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("finish scan run %s: %w: already terminal", run.ID, apperrors.ErrConflict)
	}
	if err != nil {
		return wrapError("finish scan run", err)
	}
	return nil
}

func (r *scanRunRepository) Get(ctx context.Context, id uuid.UUID) (*models.ScanRun, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	var run models.ScanRun
	var status string
	err = scope.Conn.QueryRow(ctx, `
		SELECT scan_run_id, source_system, source_db_id, status, started_at, ended_at, metrics
		FROM engine_scan_runs WHERE scan_run_id = $1`, id,
	).Scan(&run.ID, &run.SourceSystem, &run.SourceDBID, &status, &run.StartedAt, &run.EndedAt, &run.Metrics)
	if err != nil {
		return nil, wrapError("get scan run", err)
	}
	run.Status = models.ScanRunStatus(status)
	return &run, nil
}
