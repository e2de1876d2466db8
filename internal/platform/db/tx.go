package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Beginner is satisfied by *pgxpool.Pool and by test doubles.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// CommitError marks a failure returned by COMMIT itself. The server may or may
// not have applied the transaction.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("platform/db: commit tx: %v", e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// BeginError marks a failure to open the transaction. Nothing was written.
type BeginError struct {
	Err error
}

func (e *BeginError) Error() string {
	return fmt.Sprintf("platform/db: begin tx: %v", e.Err)
}

func (e *BeginError) Unwrap() error {
	return e.Err
}

// WithTx executes fn inside a transaction using the given options. The
// transaction is always released: it commits when fn returns nil and rolls back
// on every other exit path, including cancellation of ctx.
func WithTx(ctx context.Context, pool Beginner, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return &BeginError{Err: err}
	}

	defer func() {
		// Rollback after a successful commit is a no-op.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &CommitError{Err: err}
	}

	return nil
}

// ReadCommitted is used for ledger writes; row locks taken by upserts serialise
// concurrent writers to the same key.
var ReadCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// Snapshot gives read-only queries one consistent view of committed state.
var Snapshot = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

var _ Beginner = (*pgxpool.Pool)(nil)
