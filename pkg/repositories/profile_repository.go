package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/golden-engine/pkg/database"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

// ProfileRepository persists table and column profiles.
type ProfileRepository interface {
	// UpsertTableProfile writes a table profile and its columns. Re-profiling the
	// same (run, schema, table) overwrites; columns absent from the new profile are removed.
	UpsertTableProfile(ctx context.Context, profile *models.TableProfile) error

	// ListByRun returns the profiles of a run ordered by schema and table, columns in name order.
	ListByRun(ctx context.Context, scanRunID uuid.UUID) ([]*models.TableProfile, error)
}

type profileRepository struct {
	db *database.DB
}

// NewProfileRepository creates a profile repository.
func NewProfileRepository(db *database.DB) ProfileRepository {
	return &profileRepository{db: db}
}

var _ ProfileRepository = (*profileRepository)(nil)

func (r *profileRepository) UpsertTableProfile(ctx context.Context, p *models.TableProfile) error {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO engine_table_profiles (scan_run_id, schema_name, table_name, row_count, sample_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scan_run_id, schema_name, table_name) DO UPDATE SET
			row_count   = EXCLUDED.row_count,
			sample_hash = EXCLUDED.sample_hash,
			profiled_at = NOW()`,
		p.ScanRunID, p.SchemaName, p.TableName, p.RowCount, p.SampleHash)
	if err != nil {
		return wrapError("upsert table profile", err)
	}

	names := make([]string, 0, len(p.Columns))
	batch := &pgx.Batch{}
	for _, c := range p.Columns {
		names = append(names, c.ColumnName)
		batch.Queue(`
			INSERT INTO engine_column_profiles (scan_run_id, schema_name, table_name, column_name,
				data_type, row_count, distinct_count, null_count, null_rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (scan_run_id, schema_name, table_name, column_name) DO UPDATE SET
				data_type      = EXCLUDED.data_type,
				row_count      = EXCLUDED.row_count,
				distinct_count = EXCLUDED.distinct_count,
				null_count     = EXCLUDED.null_count,
				null_rate      = EXCLUDED.null_rate,
				profiled_at    = NOW()`,
			p.ScanRunID, p.SchemaName, p.TableName, c.ColumnName, c.DataType, c.RowCount,
			c.DistinctCount, c.NullCount, c.NullRate)
	}
	batch.Queue(`
		DELETE FROM engine_column_profiles
		WHERE scan_run_id = $1 AND schema_name = $2 AND table_name = $3
		AND NOT (column_name = ANY($4))`, p.ScanRunID, p.SchemaName, p.TableName, names)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrapError("upsert column profiles", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *profileRepository) ListByRun(ctx context.Context, scanRunID uuid.UUID) ([]*models.TableProfile, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	rows, err := scope.Conn.Query(ctx, `
		SELECT schema_name, table_name, row_count, sample_hash
		FROM engine_table_profiles
		WHERE scan_run_id = $1
		ORDER BY schema_name, table_name`, scanRunID)
	if err != nil {
		return nil, wrapError("list table profiles", err)
	}

	var profiles []*models.TableProfile
	byKey := make(map[string]*models.TableProfile)
	for rows.Next() {
		p := &models.TableProfile{ScanRunID: scanRunID}
		if err := rows.Scan(&p.SchemaName, &p.TableName, &p.RowCount, &p.SampleHash); err != nil {
			rows.Close()
			return nil, wrapError("scan table profile", err)
		}
		profiles = append(profiles, p)
		byKey[p.SchemaName+"."+p.TableName] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate table profiles", err)
	}

	colRows, err := scope.Conn.Query(ctx, `
		SELECT schema_name, table_name, column_name, data_type, row_count,
			distinct_count, null_count, null_rate
		FROM engine_column_profiles
		WHERE scan_run_id = $1
		ORDER BY schema_name, table_name, column_name`, scanRunID)
	if err != nil {
		return nil, wrapError("list column profiles", err)
	}
	defer colRows.Close()

	for colRows.Next() {
		var schema, table string
		c := &models.ColumnProfile{}
		if err := colRows.Scan(&schema, &table, &c.ColumnName, &c.DataType, &c.RowCount,
			&c.DistinctCount, &c.NullCount, &c.NullRate); err != nil {
			return nil, wrapError("scan column profile", err)
		}
		if p, ok := byKey[schema+"."+table]; ok {
			p.Columns = append(p.Columns, c)
		}
	}
	if err := colRows.Err(); err != nil {
		return nil, wrapError("iterate column profiles", err)
	}
	return profiles, nil
}
