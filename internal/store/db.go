package store

import (
	"context"
	"database/sql"
)

// DBTX is the slice of database/sql a store needs to run its queries.
// *sql.DB and *sql.Tx both satisfy it, so the same store can execute
// against the connection pool or inside a caller-owned transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
