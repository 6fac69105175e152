package tablequery

import (
	"context"
	"fmt"

	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
)

// SelectSQL builds the statement Select runs.
func SelectSQL(t Table, filter rowfilter.Expr, lock Lock) (string, []any, error) {
	f, err := rowfilter.CompileSQL(filter, rowAlias, 0)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("SELECT row_to_json(%s) AS o\nFROM %s AS %s%s",
		quote(rowAlias), t.Ident(), quote(rowAlias), f.Where())
	if lock != NoLock {
		sql += "\n" + string(lock)
	}
	return sql, f.Params, nil
}

// Select returns every row of t matching filter, in the order the database
// returns them, optionally locking them.
func Select[T any](ctx context.Context, q Querier, t Table, filter rowfilter.Expr, lock Lock) ([]T, error) {
	sql, args, err := SelectSQL(t, filter, lock)
	if err != nil {
		return nil, err
	}
	rows, err := collect[T](ctx, q, sql, args)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t, err)
	}
	return rows, nil
}

// SelectMany returns every row of t matching filter. A nil or empty filter
// returns the whole table.
func SelectMany[T any](ctx context.Context, q Querier, t Table, filter rowfilter.Expr) ([]T, error) {
	return Select[T](ctx, q, t, filter, NoLock)
}

// SelectOne returns the single row matching filter. Zero or several matches
// yield a *RowCountError.
func SelectOne[T any](ctx context.Context, q Querier, t Table, filter rowfilter.Expr) (T, error) {
	rows, err := SelectMany[T](ctx, q, t, filter)
	if err != nil {
		var zero T
		return zero, err
	}
	return exactlyOne(t, rows)
}

// SelectOneOrNone returns the single row matching filter, or nil when nothing
// matches. Several matches yield a *RowCountError.
func SelectOneOrNone[T any](ctx context.Context, q Querier, t Table, filter rowfilter.Expr) (*T, error) {
	rows, err := SelectMany[T](ctx, q, t, filter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row, err := exactlyOne(t, rows)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func exactlyOne[T any](t Table, rows []T) (T, error) {
	if len(rows) != 1 {
		var zero T
		return zero, newRowCountError(t, 1, len(rows))
	}
	return rows[0], nil
}
