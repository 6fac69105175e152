// Package tablequery runs single-table statements whose WHERE clause is a
// rowfilter expression, with "exactly one row" contracts for the common
// select, insert, update, upsert and delete cases.
//
// Rows travel as row_to_json output and are decoded into T, which is either
// rowfilter.Row or a struct with json tags.
//
// Mutations that fail their row-count check have already been applied when
// the error is returned. Run them inside InTransaction or WithTransaction so
// the failure rolls them back.
package tablequery

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Table identifies a schema-qualified table.
type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"table"`
}

func (t Table) String() string { return t.Schema + "." + t.Name }

// Ident is the quoted, schema-qualified identifier.
func (t Table) Ident() string { return pgx.Identifier{t.Schema, t.Name}.Sanitize() }

// Querier is satisfied by *pgx.Conn, pgx.Tx, *pgxpool.Pool and *pgxpool.Conn.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Lock is an optional row-locking clause appended to a SELECT.
type Lock string

const (
	NoLock    Lock = ""
	ForShare  Lock = "FOR SHARE"
	ForUpdate Lock = "FOR UPDATE"
)

const (
	rowAlias = "r"
	cteName  = "w"
)

func quote(name string) string { return pgx.Identifier{name}.Sanitize() }

func quoteAll(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quote(n)
	}
	return strings.Join(out, ", ")
}

func placeholders(from, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("$%d", from+i+1)
	}
	return strings.Join(out, ", ")
}

// returningJSON wraps a data-modifying statement so that each affected row
// comes back as a single json column.
func returningJSON(stmt string) string {
	return fmt.Sprintf("WITH %s AS (\n%s\nRETURNING *\n)\nSELECT row_to_json(%s) AS o FROM %s",
		quote(cteName), stmt, quote(cteName), quote(cteName))
}

func collect[T any](ctx context.Context, q Querier, sql string, args []any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[T])
}
