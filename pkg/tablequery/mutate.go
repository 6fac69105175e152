package tablequery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
)

var (
	errNoColumns = errors.New("tablequery: no columns to set")
	errNoFilter  = errors.New("tablequery: filter matches every row")
)

// writeFilter compiles the filter of an UPDATE or DELETE. A filter that
// matches every row is refused.
func writeFilter(filter rowfilter.Expr) (rowfilter.SQL, error) {
	f, err := rowfilter.CompileSQL(filter, rowAlias, 0)
	if err != nil {
		return rowfilter.SQL{}, err
	}
	if f.Condition == "" || f.Condition == "TRUE" {
		return rowfilter.SQL{}, errNoFilter
	}
	return f, nil
}

// InsertSQL builds the statement InsertOne runs.
func InsertSQL(t Table, row rowfilter.Fields) (string, []any) {
	if len(row) == 0 {
		return returningJSON(fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", t.Ident())), []any{}
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s)\nVALUES (%s)",
		t.Ident(), quoteAll(row.Names()), placeholders(0, len(row)))
	return returningJSON(stmt), row.Values()
}

// UpdateSQL builds the statement UpdateOne runs. Filter parameters come
// first, followed by the new values. An empty filter is an error.
func UpdateSQL(t Table, filter rowfilter.Expr, set rowfilter.Fields) (string, []any, error) {
	if len(set) == 0 {
		return "", nil, errNoColumns
	}
	f, err := writeFilter(filter)
	if err != nil {
		return "", nil, err
	}
	assign := make([]string, len(set))
	for i, p := range set {
		assign[i] = fmt.Sprintf("%s = $%d", quote(p.Name), f.ParamCount()+i+1)
	}
	stmt := fmt.Sprintf("UPDATE %s AS %s\nSET %s%s",
		t.Ident(), quote(rowAlias), strings.Join(assign, ", "), f.Where())
	return returningJSON(stmt), append(f.Params, set.Values()...), nil
}

// UpsertSQL builds the statement UpsertOne runs. key names the conflict
// target; on conflict the columns of set are overwritten.
func UpsertSQL(t Table, key, set rowfilter.Fields) (string, []any, error) {
	if len(key) == 0 {
		return "", nil, errors.New("tablequery: upsert needs a conflict key")
	}
	update := set
	if len(update) == 0 {
		// still touch the row so RETURNING yields it
		update = key
	}
	assign := make([]string, len(update))
	for i, p := range update {
		assign[i] = fmt.Sprintf("%s = EXCLUDED.%s", quote(p.Name), quote(p.Name))
	}
	cols := append(key.Names(), set.Names()...)
	stmt := fmt.Sprintf("INSERT INTO %s (%s)\nVALUES (%s)\nON CONFLICT (%s) DO UPDATE\nSET %s",
		t.Ident(), quoteAll(cols), placeholders(0, len(cols)),
		quoteAll(key.Names()), strings.Join(assign, ", "))
	return returningJSON(stmt), append(key.Values(), set.Values()...), nil
}

// EnsureSQL builds the statement EnsureOne runs.
func EnsureSQL(t Table, key, row rowfilter.Fields) (string, []any, error) {
	if len(key) == 0 {
		return "", nil, errors.New("tablequery: ensure needs a conflict key")
	}
	cols := append(key.Names(), row.Names()...)
	stmt := fmt.Sprintf("INSERT INTO %s (%s)\nVALUES (%s)\nON CONFLICT (%s) DO NOTHING",
		t.Ident(), quoteAll(cols), placeholders(0, len(cols)), quoteAll(key.Names()))
	return returningJSON(stmt), append(key.Values(), row.Values()...), nil
}

// DeleteSQL builds the statement DeleteOne runs. An empty filter is an
// error.
func DeleteSQL(t Table, filter rowfilter.Expr) (string, []any, error) {
	f, err := writeFilter(filter)
	if err != nil {
		return "", nil, err
	}
	stmt := fmt.Sprintf("DELETE FROM %s AS %s%s", t.Ident(), quote(rowAlias), f.Where())
	return returningJSON(stmt), f.Params, nil
}

// InsertOne inserts row and returns the stored row, defaults included.
// Constraint violations are returned as the driver's *pgconn.PgError.
func InsertOne[T any](ctx context.Context, q Querier, t Table, row rowfilter.Fields) (T, error) {
	sql, args := InsertSQL(t, row)
	return writeOne[T](ctx, q, t, "insert", sql, args, nil)
}

// UpdateOne sets the columns of set on the single row matching filter.
func UpdateOne[T any](ctx context.Context, q Querier, t Table, filter rowfilter.Expr, set rowfilter.Fields) (T, error) {
	sql, args, err := UpdateSQL(t, filter, set)
	return writeOne[T](ctx, q, t, "update", sql, args, err)
}

// UpsertOne inserts key+set, or on a conflict over the key columns
// overwrites the existing row with set.
func UpsertOne[T any](ctx context.Context, q Querier, t Table, key, set rowfilter.Fields) (T, error) {
	sql, args, err := UpsertSQL(t, key, set)
	return writeOne[T](ctx, q, t, "upsert", sql, args, err)
}

// EnsureOne inserts key+row unless a row with the same key exists, in which
// case it returns nil.
func EnsureOne[T any](ctx context.Context, q Querier, t Table, key, row rowfilter.Fields) (*T, error) {
	sql, args, err := EnsureSQL(t, key, row)
	if err != nil {
		return nil, err
	}
	rows, err := collect[T](ctx, q, sql, args)
	if err != nil {
		return nil, fmt.Errorf("ensure %s: %w", t, err)
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	}
	return nil, newRowCountError(t, 1, len(rows))
}

// DeleteOne deletes the single row matching filter and returns it.
func DeleteOne[T any](ctx context.Context, q Querier, t Table, filter rowfilter.Expr) (T, error) {
	sql, args, err := DeleteSQL(t, filter)
	return writeOne[T](ctx, q, t, "delete", sql, args, err)
}

func writeOne[T any](ctx context.Context, q Querier, t Table, verb, sql string, args []any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	rows, err := collect[T](ctx, q, sql, args)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", verb, t, err)
	}
	return exactlyOne(t, rows)
}
