// Package dbx holds the database handle shared by the Postgres repositories
// and a helper that runs a unit of work inside one transaction.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so a repository bound to
// it works inside and outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxRunner runs fn in a transaction. Services depend on it instead of a raw
// *sql.DB so tests can substitute a pass-through runner.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}

// SQLRunner is the TxRunner over a real connection pool.
type SQLRunner struct {
	DB   *sql.DB
	Opts *sql.TxOptions
}

func (r SQLRunner) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	return WithTx(ctx, r.DB, r.Opts, fn)
}

// WithTx commits when fn returns nil and rolls back otherwise. A panic in fn
// rolls back and is re-raised.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    return users.NewPostgresRepository(tx).SetActive(ctx, id, false)
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}
