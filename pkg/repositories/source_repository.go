package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
	"github.com/ekaya-inc/golden-engine/pkg/database"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

// SourceRepository is the source registry. Passwords are stored exactly as
// given; sealing happens in the service layer.
type SourceRepository interface {
	Create(ctx context.Context, reg *models.SourceRegistration) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SourceRegistration, error)
	GetByName(ctx context.Context, name string) (*models.SourceRegistration, error)
	List(ctx context.Context) ([]*models.SourceRegistration, error)
	ListActive(ctx context.Context) ([]*models.SourceRegistration, error)

	// Update applies the non-nil fields of upd. sealedPassword nil keeps the stored password.
	Update(ctx context.Context, id uuid.UUID, upd *models.SourceUpdate, sealedPassword *string) (*models.SourceRegistration, error)

	// RecordScanResult stamps last_scan_at/status/error.
	RecordScanResult(ctx context.Context, id uuid.UUID, status string, scanErr *string) error
}

type sourceRepository struct {
	db *database.DB
}

// NewSourceRepository creates a source registry repository.
func NewSourceRepository(db *database.DB) SourceRepository {
	return &sourceRepository{db: db}
}

var _ SourceRepository = (*sourceRepository)(nil)

const sourceColumns = `source_db_id, name, db_type, host, port, database_name, username, password,
	ssl_mode, schemas, table_blacklist, metadata, active, last_scan_at, last_scan_status,
	last_scan_error, created_at, updated_at`

func scanSource(row pgx.Row) (*models.SourceRegistration, error) {
	var s models.SourceRegistration
	err := row.Scan(&s.ID, &s.Name, &s.DBType, &s.Host, &s.Port, &s.DatabaseName, &s.Username,
		&s.Password, &s.SSLMode, &s.Schemas, &s.TableBlacklist, &s.Metadata, &s.Active,
		&s.LastScanAt, &s.LastScanStatus, &s.LastScanError, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sourceRepository) Create(ctx context.Context, reg *models.SourceRegistration) error {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	schemas := reg.Schemas
	if schemas == nil {
		schemas = []string{}
	}
	blacklist := reg.TableBlacklist
	if blacklist == nil {
		blacklist = []string{}
	}
	metadata := reg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	query := `
		INSERT INTO engine_source_databases (source_db_id, name, db_type, host, port, database_name,
			username, password, ssl_mode, schemas, table_blacklist, metadata, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query, reg.ID, reg.Name, reg.DBType, reg.Host, reg.Port,
		reg.DatabaseName, reg.Username, reg.Password, reg.SSLMode, schemas, blacklist, metadata, reg.Active,
	).Scan(&reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return wrapError("create source registration", err)
	}
	return nil
}

func (r *sourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SourceRegistration, error) {
	return r.getOne(ctx, `source_db_id = $1`, id)
}

func (r *sourceRepository) GetByName(ctx context.Context, name string) (*models.SourceRegistration, error) {
	return r.getOne(ctx, `name = $1`, name)
}

func (r *sourceRepository) getOne(ctx context.Context, where string, arg any) (*models.SourceRegistration, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	reg, err := scanSource(scope.Conn.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM engine_source_databases WHERE `+where, arg))
	if err != nil {
		return nil, wrapError("get source registration", err)
	}
	return reg, nil
}

func (r *sourceRepository) List(ctx context.Context) ([]*models.SourceRegistration, error) {
	return r.list(ctx, false)
}

func (r *sourceRepository) ListActive(ctx context.Context) ([]*models.SourceRegistration, error) {
	return r.list(ctx, true)
}

func (r *sourceRepository) list(ctx context.Context, activeOnly bool) ([]*models.SourceRegistration, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	rows, err := scope.Conn.Query(ctx, `SELECT `+sourceColumns+`
		FROM engine_source_databases
		WHERE active OR NOT $1
		ORDER BY name`, activeOnly)
	if err != nil {
		return nil, wrapError("list source registrations", err)
	}
	defer rows.Close()

	var out []*models.SourceRegistration
	for rows.Next() {
		reg, err := scanSource(rows)
		if err != nil {
			return nil, wrapError("scan source registration", err)
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate source registrations", err)
	}
	return out, nil
}

func (r *sourceRepository) Update(ctx context.Context, id uuid.UUID, upd *models.SourceUpdate, sealedPassword *string) (*models.SourceRegistration, error) {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	// Every column falls back to its stored value when the parameter is NULL.
	query := `
		UPDATE engine_source_databases SET
			name            = COALESCE($2, name),
			host            = COALESCE($3, host),
			port            = COALESCE($4, port),
			database_name   = COALESCE($5, database_name),
			username        = COALESCE($6, username),
			password        = COALESCE($7, password),
			ssl_mode        = COALESCE($8, ssl_mode),
			schemas         = COALESCE($9, schemas),
			table_blacklist = COALESCE($10, table_blacklist),
			metadata        = COALESCE($11, metadata),
			active          = COALESCE($12, active),
			updated_at      = NOW()
		WHERE source_db_id = $1
		RETURNING ` + sourceColumns

	reg, err := scanSource(scope.Conn.QueryRow(ctx, query, id,
		upd.Name, upd.Host, upd.Port, upd.DatabaseName, upd.Username, sealedPassword, upd.SSLMode,
		jsonbParam(upd.Schemas), jsonbParam(upd.TableBlacklist), jsonbMapParam(upd.Metadata), upd.Active,
	))
	if err != nil {
		return nil, wrapError("update source registration", err)
	}
	return reg, nil
}

func (r *sourceRepository) RecordScanResult(ctx context.Context, id uuid.UUID, status string, scanErr *string) error {
	scope, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE engine_source_databases
		SET last_scan_at = $2, last_scan_status = $3, last_scan_error = $4
		WHERE source_db_id = $1`, id, time.Now().UTC(), status, scanErr)
	if err != nil {
		return wrapError("record scan result", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
