package tablequery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Beginner opens transactions. *pgx.Conn, *pgxpool.Conn and *pgxpool.Pool
// satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Acquirer lends out pooled connections. *pgxpool.Pool satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

// InTransaction runs job between BEGIN and COMMIT on db. If job or COMMIT
// fails, the transaction is rolled back and the original error returned.
func InTransaction[T any](ctx context.Context, db Beginner, job func(ctx context.Context, tx pgx.Tx) (T, error)) (T, error) {
	var zero T

	tx, err := db.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("begin: %w", err)
	}

	result, err := job(ctx, tx)
	if err != nil {
		rollback(ctx, tx)
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		rollback(ctx, tx)
		return zero, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// WithTransaction borrows a connection from pool and runs job in a
// transaction on it. On success the connection goes back to the pool. On
// failure its state is unknown, so it is closed and dropped from the pool.
func WithTransaction[T any](ctx context.Context, pool Acquirer, job func(ctx context.Context, tx pgx.Tx) (T, error)) (T, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("acquire: %w", err)
	}

	result, err := InTransaction(ctx, conn, job)
	if err != nil {
		discard(ctx, conn)
		return result, err
	}
	conn.Release()
	return result, nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		zap.L().Warn("rollback failed", zap.Error(err))
	}
}

func discard(ctx context.Context, conn *pgxpool.Conn) {
	c := conn.Hijack()
	if err := c.Close(context.WithoutCancel(ctx)); err != nil {
		zap.L().Debug("close discarded connection", zap.Error(err))
	}
}
