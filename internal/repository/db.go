package repository

import (
	"context"
	"database/sql"
)

// SQLExecutor is the query surface shared by *sql.DB and *sql.Tx, so the
// pending queries run unchanged inside and outside WithTransaction.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ SQLExecutor = (*sql.DB)(nil)
	_ SQLExecutor = (*sql.Tx)(nil)
)
