// Package database persists service orders and import logs in PostgreSQL.
//
// Queries follows the sqlc layout: every statement is a method on *Queries,
// which runs against any DBTX so the same code works on the pool and inside
// a transaction. Store wraps a pool and implements the persistence the
// import pipeline depends on.
package database

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the DDL for the tables this package reads and writes.
//
//go:embed schema.sql
var Schema string

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// Queries runs the statements of this package against a DBTX.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}
