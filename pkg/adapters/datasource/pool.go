package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is a connection pool the ConnectionManager can health-check and close.
type Pool interface {
	Ping(ctx context.Context) error
	Close() error
	GetType() string
}

// PostgresPool wraps *pgxpool.Pool.
type PostgresPool struct {
	pool *pgxpool.Pool
}

func (w *PostgresPool) Ping(ctx context.Context) error { return w.pool.Ping(ctx) }

func (w *PostgresPool) Close() error {
	w.pool.Close()
	return nil
}

func (w *PostgresPool) GetType() string { return "postgres" }

// SQLPool wraps a database/sql pool (SQL Server, SQLite).
type SQLPool struct {
	db     *sql.DB
	dbType string
}

// NewSQLPool wraps an opened *sql.DB.
func NewSQLPool(db *sql.DB, dbType string) *SQLPool {
	return &SQLPool{db: db, dbType: dbType}
}

func (w *SQLPool) Ping(ctx context.Context) error { return w.db.PingContext(ctx) }

func (w *SQLPool) Close() error { return w.db.Close() }

func (w *SQLPool) GetType() string { return w.dbType }

// CreatePostgresPool opens a pgx pool sized by the manager settings.
func CreatePostgresPool(ctx context.Context, connString string, cfg ConnectionManagerConfig) (Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = cfg.PoolMaxConns
	poolConfig.MinConns = cfg.PoolMinConns
	poolConfig.MaxConnIdleTime = time.Duration(cfg.TTLMinutes) * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	return &PostgresPool{pool: pool}, nil
}

// CreateSQLPool opens a database/sql pool for driverName.
func CreateSQLPool(ctx context.Context, driverName, dsn string, cfg ConnectionManagerConfig) (Pool, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(int(cfg.PoolMaxConns))
	db.SetMaxIdleConns(int(cfg.PoolMinConns))
	db.SetConnMaxIdleTime(time.Duration(cfg.TTLMinutes) * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLPool(db, driverName), nil
}

// GetPostgresPool extracts the underlying *pgxpool.Pool.
func GetPostgresPool(p Pool) (*pgxpool.Pool, error) {
	w, ok := p.(*PostgresPool)
	if !ok {
		return nil, fmt.Errorf("pool is not a PostgreSQL pool (got %s)", p.GetType())
	}
	return w.pool, nil
}

// GetSQLDB extracts the underlying *sql.DB.
func GetSQLDB(p Pool) (*sql.DB, error) {
	w, ok := p.(*SQLPool)
	if !ok {
		return nil, fmt.Errorf("pool is not a database/sql pool (got %s)", p.GetType())
	}
	return w.db, nil
}
