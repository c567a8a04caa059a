package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/golden-engine/pkg/database"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

// GoldenObjectRepository persists golden objects.
type GoldenObjectRepository interface {
	// Upsert inserts the object or, when its source tuple already exists, overwrites
	// attributes and golden_id and refreshes updated_at. Atomic under the
	// (source_system, source_id, object_type) constraint. Reports whether a row was inserted.
	Upsert(ctx context.Context, obj *models.GoldenObject) (created bool, err error)

	// GetBySource returns the object stored for a source tuple.
	GetBySource(ctx context.Context, sourceSystem, sourceID, objectType string) (*models.GoldenObject, error)

	// ListByGoldenID returns every source record folded into goldenID.
	ListByGoldenID(ctx context.Context, goldenID string) ([]*models.GoldenObject, error)
}

type goldenObjectRepository struct {
	db *database.DB
}

// NewGoldenObjectRepository creates a golden object repository.
func NewGoldenObjectRepository(db *database.DB) GoldenObjectRepository {
	return &goldenObjectRepository{db: db}
}

var _ GoldenObjectRepository = (*goldenObjectRepository)(nil)

func (r *goldenObjectRepository) Upsert(ctx context.Context, obj *models.GoldenObject) (bool, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer scope.Close()

	attrs := obj.Attributes
	if attrs == nil {
		attrs = models.Attributes{}
	}

	// xmax is 0 only for a freshly inserted tuple.
	query := `
		INSERT INTO engine_golden_objects (golden_id, source_system, source_id, object_type, attributes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_system, source_id, object_type) DO UPDATE SET
			attributes = EXCLUDED.attributes,
			golden_id  = EXCLUDED.golden_id,
			updated_at = NOW()
		RETURNING created_at, updated_at, (xmax = 0) AS inserted`

	var inserted bool
	err = scope.Conn.QueryRow(ctx, query,
		obj.GoldenID, obj.SourceSystem, obj.SourceID, obj.ObjectType, map[string]any(attrs),
	).Scan(&obj.CreatedAt, &obj.UpdatedAt, &inserted)
	if err != nil {
		return false, wrapError("upsert golden object", err)
	}
	return inserted, nil
}

const goldenObjectColumns = `golden_id, source_system, source_id, object_type, attributes, created_at, updated_at`

func scanGoldenObject(row pgx.Row) (*models.GoldenObject, error) {
	var obj models.GoldenObject
	var attrs map[string]any
	if err := row.Scan(&obj.GoldenID, &obj.SourceSystem, &obj.SourceID, &obj.ObjectType,
		&attrs, &obj.CreatedAt, &obj.UpdatedAt); err != nil {
		return nil, err
	}
	obj.Attributes = models.NewAttributes(attrs)
	return &obj, nil
}

func (r *goldenObjectRepository) GetBySource(ctx context.Context, sourceSystem, sourceID, objectType string) (*models.GoldenObject, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	row := scope.Conn.QueryRow(ctx, `SELECT `+goldenObjectColumns+`
		FROM engine_golden_objects
		WHERE source_system = $1 AND source_id = $2 AND object_type = $3`,
		sourceSystem, sourceID, objectType)
	obj, err := scanGoldenObject(row)
	if err != nil {
		return nil, wrapError("get golden object", err)
	}
	return obj, nil
}

func (r *goldenObjectRepository) ListByGoldenID(ctx context.Context, goldenID string) ([]*models.GoldenObject, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	rows, err := scope.Conn.Query(ctx, `SELECT `+goldenObjectColumns+`
		FROM engine_golden_objects
		WHERE golden_id = $1
		ORDER BY source_system, source_id`, goldenID)
	if err != nil {
		return nil, wrapError("list golden objects", err)
	}
	defer rows.Close()

	var out []*models.GoldenObject
	for rows.Next() {
		obj, err := scanGoldenObject(rows)
		if err != nil {
			return nil, wrapError("scan golden object", err)
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate golden objects", err)
	}
	return out, nil
}
