package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// DBTxKey carries an open transaction through a request context. Repository
// helpers check for it before falling back to the shared pool, so all work
// done under WithTx shares a single transaction.
const DBTxKey contextKey = "db_tx"

// TxFromContext retrieves the active transaction from context, or nil if the
// context carries none.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the pool and returns a derived context that
// carries it. The caller owns the transaction and must Commit or Rollback.
func WithTx(ctx context.Context, pool *pgxpool.Pool) (context.Context, pgx.Tx, error) {
	if pool == nil {
		return ctx, nil, errors.New("no database pool")
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// RunInTx executes fn inside a transaction. The context passed to fn carries
// the transaction, so repository calls made through it participate in it.
// A non-nil error from fn rolls the transaction back and is returned as-is.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	txCtx, tx, err := WithTx(ctx, pool)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
