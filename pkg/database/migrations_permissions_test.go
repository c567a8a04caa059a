//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/migrations"
	"github.com/ekaya-inc/golden-engine/pkg/database"
	"github.com/ekaya-inc/golden-engine/pkg/testhelpers"
)

// createScratchDatabase creates a database plus a login role and returns a DSN for that role.
// grantSchema controls whether the role may create tables in public.
func createScratchDatabase(t *testing.T, name, role string, grantSchema bool) string {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	_, _ = testDB.Pool.Exec(ctx, "DROP DATABASE IF EXISTS "+name)
	_, _ = testDB.Pool.Exec(ctx, "DROP USER IF EXISTS "+role)

	_, err := testDB.Pool.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)
	_, err = testDB.Pool.Exec(ctx, "CREATE USER "+role+" WITH PASSWORD 'scratch_pw'")
	require.NoError(t, err)
	_, err = testDB.Pool.Exec(ctx, "GRANT CONNECT ON DATABASE "+name+" TO "+role)
	require.NoError(t, err)

	if grantSchema {
		super, err := sql.Open("pgx", fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			testDB.User, testDB.Password, testDB.Host, testDB.Port, name))
		require.NoError(t, err)
		_, err = super.Exec("GRANT ALL ON SCHEMA public TO " + role)
		super.Close()
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_, _ = testDB.Pool.Exec(ctx, `
			SELECT pg_terminate_backend(pid) FROM pg_stat_activity
			WHERE datname = $1 AND pid <> pg_backend_pid()`, name)
		time.Sleep(100 * time.Millisecond)
		_, _ = testDB.Pool.Exec(ctx, "DROP DATABASE IF EXISTS "+name)
		_, _ = testDB.Pool.Exec(ctx, "DROP USER IF EXISTS "+role)
	})

	return fmt.Sprintf("postgres://%s:scratch_pw@%s:%d/%s?sslmode=disable", role, testDB.Host, testDB.Port, name)
}

func runWithDeadline(t *testing.T, db *sql.DB, d time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- database.RunMigrations(db, migrations.FS, zap.NewNop()) }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatal("migrations did not finish in time")
		return nil
	}
}

func Test_Migrations_InsufficientPermissions(t *testing.T) {
	dsn := createScratchDatabase(t, "mig_restricted", "mig_restricted_user", false)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	err = runWithDeadline(t, db, 30*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func Test_Migrations_CreateSchemaAndAreIdempotent(t *testing.T) {
	dsn := createScratchDatabase(t, "mig_full", "mig_full_user", true)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, runWithDeadline(t, db, 60*time.Second))
	db.Close()

	// Second run is a no-op.
	db, err = sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, runWithDeadline(t, db, 60*time.Second))

	verify, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer verify.Close()

	for _, table := range []string{
		"engine_identity_rules", "engine_golden_objects", "engine_source_databases",
		"engine_scan_runs", "engine_table_profiles", "engine_column_profiles", "engine_object_candidates",
	} {
		var exists bool
		err := verify.QueryRow(`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s should exist", table)
	}

	_, err = verify.Exec(`INSERT INTO engine_identity_rules (rule_id, rule_name, object_type, source_system, key_fields, active)
		VALUES ('r1', 'empty', 'customer', 'crm', '[]', true)`)
	require.Error(t, err, "an active rule without key fields must be rejected")
	assert.Contains(t, err.Error(), "engine_identity_rules_active_keys")
}
