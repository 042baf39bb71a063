// Package testdb provides helpers for integration tests that need a
// real PostgreSQL database. Tests opt in by setting DATABASE_URL; when
// it is unset they skip instead of failing.
package testdb

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/perchfield/relayq/migrations"
)

// connectTimeout bounds the initial connectivity check.
const connectTimeout = 5 * time.Second

// URL returns the test database URL, or empty when integration tests
// are not configured.
func URL() string {
	return os.Getenv("DATABASE_URL")
}

// Connect opens the test database, runs migrations and truncates all
// tables so the test starts from a clean slate. It skips the test when
// DATABASE_URL is unset. The connection is closed during test cleanup.
func Connect(t *testing.T) *sql.DB {
	t.Helper()

	url := URL()
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping database integration test")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "failed to ping test database")

	migrate(t, db)
	truncate(t, db)

	return db
}

// migrate brings the test database schema up to date from the embedded
// migration files.
func migrate(t *testing.T, db *sql.DB) {
	t.Helper()

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"), "failed to set goose dialect")
	require.NoError(t, goose.Up(db, "."), "failed to run migrations")
}

// truncate resets all application tables between tests.
func truncate(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.Exec(`TRUNCATE TABLE jobs, messages, work_items`)
	require.NoError(t, err, "failed to truncate tables")
}
