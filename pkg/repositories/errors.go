package repositories

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/golden-engine/pkg/apperrors"
)

// wrapError maps store errors onto apperrors sentinels. Integrity violations
// (unique 23505, check 23514) become ErrConflict so callers never retry them.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, apperrors.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23514":
			return fmt.Errorf("%s: %w: %s", op, apperrors.ErrConflict, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// jsonbParam passes nil slices and maps as SQL NULL so COALESCE keeps the stored value.
func jsonbParam[T any](v []T) any {
	if v == nil {
		return nil
	}
	return v
}

func jsonbMapParam(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
