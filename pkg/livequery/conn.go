package livequery

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is what a Query needs from its dedicated connection. *pgx.Conn
// satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens the connection a Query owns for its whole life. The Query
// closes it on teardown.
type Dialer func(ctx context.Context) (Conn, error)

// Connect dials a fresh connection from a connection string.
func Connect(dsn string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// FromPool takes a connection out of pool for good. LISTEN state must not
// leak back to other pool users, so the connection is closed on teardown
// rather than released.
func FromPool(pool *pgxpool.Pool) Dialer {
	return func(ctx context.Context) (Conn, error) {
		pc, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return pc.Hijack(), nil
	}
}
