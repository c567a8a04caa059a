package repositories

import (
	"context"

	"github.com/ekaya-inc/golden-engine/pkg/database"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

// CandidateRepository persists object candidates keyed by (schema, table).
type CandidateRepository interface {
	Upsert(ctx context.Context, c *models.ObjectCandidate) error
	List(ctx context.Context) ([]*models.ObjectCandidate, error)
}

type candidateRepository struct {
	db *database.DB
}

// NewCandidateRepository creates a candidate repository.
func NewCandidateRepository(db *database.DB) CandidateRepository {
	return &candidateRepository{db: db}
}

var _ CandidateRepository = (*candidateRepository)(nil)

func (r *candidateRepository) Upsert(ctx context.Context, c *models.ObjectCandidate) error {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO engine_object_candidates (schema_name, table_name, guess_type, row_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (schema_name, table_name) DO UPDATE SET
			guess_type = EXCLUDED.guess_type,
			row_count  = EXCLUDED.row_count,
			updated_at = NOW()
		RETURNING updated_at`,
		c.SchemaName, c.TableName, c.GuessType, c.RowCount,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return wrapError("upsert object candidate", err)
	}
	return nil
}

func (r *candidateRepository) List(ctx context.Context) ([]*models.ObjectCandidate, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	rows, err := scope.Conn.Query(ctx, `
		SELECT schema_name, table_name, guess_type, row_count, updated_at
		FROM engine_object_candidates
		ORDER BY schema_name, table_name`)
	if err != nil {
		return nil, wrapError("list object candidates", err)
	}
	defer rows.Close()

	var out []*models.ObjectCandidate
	for rows.Next() {
		var c models.ObjectCandidate
		if err := rows.Scan(&c.SchemaName, &c.TableName, &c.GuessType, &c.RowCount, &c.UpdatedAt); err != nil {
			return nil, wrapError("scan object candidate", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate object candidates", err)
	}
	return out, nil
}
