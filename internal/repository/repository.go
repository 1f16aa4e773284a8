// Package repository provides data access over PostgreSQL.
//
// Queries are hand-written against database/sql (pgx stdlib driver). The
// package exposes row-shaped structs; mapping to domain types happens in
// the service layer.
package repository

import (
	"context"
	"database/sql"
)

// DBTX abstracts *sql.DB and *sql.Tx so queries run inside or outside a
// transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds a database handle and exposes all query methods.
type Queries struct {
	db DBTX
}

// New creates a Queries over the given handle.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}
