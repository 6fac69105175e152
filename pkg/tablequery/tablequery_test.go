package tablequery_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/postgres-live-table/pkg/fixgres"
	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

const oneSQL = `
CREATE TABLE public.one(
    id SERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);
INSERT INTO public.one(name)
VALUES('one'), ('two');
`

type oneRow struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

var one = tablequery.Table{Schema: "public", Name: "one"}

func TestMain(m *testing.M) {
	code := m.Run()
	_ = fixgres.ShutdownNow()
	os.Exit(code)
}

func TestSelectOne(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(oneSQL))

	row, err := tablequery.WithTransaction(ctx, sbx.Pool, func(ctx context.Context, tx pgx.Tx) (oneRow, error) {
		return tablequery.SelectOne[oneRow](ctx, tx, one, rowfilter.Fields{{Name: "id", Value: 2}})
	})
	require.NoError(t, err)
	require.Equal(t, oneRow{ID: 2, Name: "two"}, row)

	_, err = tablequery.SelectOne[oneRow](ctx, sbx.Pool, one, rowfilter.Fields{{Name: "id", Value: 4}})
	var rce *tablequery.RowCountError
	require.ErrorAs(t, err, &rce)
	require.Equal(t, 1, rce.Expected)
	require.Equal(t, 0, rce.Actual)
	require.ErrorIs(t, err, tablequery.ErrNotFound)

	_, err = tablequery.SelectOne[oneRow](ctx, sbx.Pool, one, nil)
	require.ErrorAs(t, err, &rce)
	require.Equal(t, 2, rce.Actual)
	require.ErrorIs(t, err, tablequery.ErrConflict)
}

func TestSelectOneOrNone(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(oneSQL))

	row, err := tablequery.SelectOneOrNone[oneRow](ctx, sbx.Pool, one, rowfilter.Fields{{Name: "id", Value: 2}})
	require.NoError(t, err)
	require.Equal(t, &oneRow{ID: 2, Name: "two"}, row)

	row, err = tablequery.SelectOneOrNone[oneRow](ctx, sbx.Pool, one, rowfilter.Fields{{Name: "id", Value: 4}})
	require.NoError(t, err)
	require.Nil(t, row)

	_, err = tablequery.SelectOneOrNone[oneRow](ctx, sbx.Pool, one, rowfilter.Minimum{Field: "id", Value: 0})
	require.ErrorIs(t, err, tablequery.ErrConflict)
}

func TestSelectMany(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(oneSQL))

	rows, err := tablequery.SelectMany[rowfilter.Row](ctx, sbx.Pool, one, rowfilter.Fields{{Name: "id", Value: 2}})
	require.NoError(t, err)
	require.Equal(t, []rowfilter.Row{{"id": int64(2), "name": "two"}}, rows)

	rows, err = tablequery.SelectMany[rowfilter.Row](ctx, sbx.Pool, one, rowfilter.Fields{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestInsertOne(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(oneSQL))

	row, err := tablequery.InsertOne[oneRow](ctx, sbx.Pool, one, rowfilter.Fields{{Name: "name", Value: "three"}})
	require.NoError(t, err)
	require.Equal(t, oneRow{ID: 3, Name: "three"}, row)

	_, err = tablequery.InsertOne[oneRow](ctx, sbx.Pool, one, rowfilter.Fields{{Name: "name", Value: "three"}})
	require.True(t, tablequery.IsUniqueViolation(err), "want unique violation, got %v", err)
	require.True(t, tablequery.IsConstraintViolation(err))
}

func TestUpdateOne(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(oneSQL))

	row, err := tablequery.UpdateOne[oneRow](ctx, sbx.Pool, one,
		rowfilter.Fields{{Name: "name", Value: "one"}},
		rowfilter.Fields{{Name: "name", Value: "een"}},
	)
	require.NoError(t, err)
	require.Equal(t, oneRow{ID: 1, Name: "een"}, row)

	_, err = tablequery.UpdateOne[oneRow](ctx, sbx.Pool, one,
		rowfilter.Fields{{Name: "name", Value: "one"}},
		rowfilter.Fields{{Name: "name", Value: "een"}},
	)
	require.ErrorIs(t, err, tablequery.ErrNotFound)
}

func TestUpdateOneRollsBackWhenTooManyRows(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(`
CREATE TABLE public.tagged(id SERIAL PRIMARY KEY, tag TEXT);
INSERT INTO public.tagged(tag) VALUES ('a'), ('a');
`))
	tagged := tablequery.Table{Schema: "public", Name: "tagged"}

	_, err := tablequery.WithTransaction(ctx, sbx.Pool, func(ctx context.Context, tx pgx.Tx) (rowfilter.Row, error) {
		return tablequery.UpdateOne[rowfilter.Row](ctx, tx, tagged,
			rowfilter.Fields{{Name: "tag", Value: "a"}},
			rowfilter.Fields{{Name: "tag", Value: "b"}},
		)
	})
	require.ErrorIs(t, err, tablequery.ErrConflict)

	rows, err := tablequery.SelectMany[rowfilter.Row](ctx, sbx.Pool, tagged, rowfilter.Fields{{Name: "tag", Value: "a"}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestUpsertOne(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(oneSQL))

	row, err := tablequery.UpsertOne[oneRow](ctx, sbx.Pool, one,
		rowfilter.Fields{{Name: "id", Value: 2}},
		rowfilter.Fields{{Name: "name", Value: "twee"}},
	)
	require.NoError(t, err)
	require.Equal(t, oneRow{ID: 2, Name: "twee"}, row)
}

func TestEnsureOne(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(oneSQL))

	row, err := tablequery.EnsureOne[oneRow](ctx, sbx.Pool, one,
		rowfilter.Fields{{Name: "id", Value: 4}},
		rowfilter.Fields{{Name: "name", Value: "four"}},
	)
	require.NoError(t, err)
	require.Equal(t, &oneRow{ID: 4, Name: "four"}, row)

	row, err = tablequery.EnsureOne[oneRow](ctx, sbx.Pool, one,
		rowfilter.Fields{{Name: "id", Value: 4}},
		rowfilter.Fields{{Name: "name", Value: "vier"}},
	)
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestDeleteOne(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(oneSQL))

	row, err := tablequery.DeleteOne[oneRow](ctx, sbx.Pool, one, rowfilter.Fields{{Name: "id", Value: 2}})
	require.NoError(t, err)
	require.Equal(t, oneRow{ID: 2, Name: "two"}, row)

	_, err = tablequery.DeleteOne[oneRow](ctx, sbx.Pool, one, rowfilter.Fields{{Name: "id", Value: 2}})
	require.ErrorIs(t, err, tablequery.ErrNotFound)
}

func TestWithTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(oneSQL))
	boom := errors.New("boom")

	_, err := tablequery.WithTransaction(ctx, sbx.Pool, func(ctx context.Context, tx pgx.Tx) (oneRow, error) {
		if _, err := tablequery.InsertOne[oneRow](ctx, tx, one, rowfilter.Fields{{Name: "name", Value: "three"}}); err != nil {
			return oneRow{}, err
		}
		return oneRow{}, boom
	})
	require.ErrorIs(t, err, boom)

	row, err := tablequery.SelectOneOrNone[oneRow](ctx, sbx.Pool, one, rowfilter.Fields{{Name: "name", Value: "three"}})
	require.NoError(t, err)
	require.Nil(t, row)

	// the failed connection was discarded, the pool still hands out working ones
	n, err := tablequery.WithTransaction(ctx, sbx.Pool, func(ctx context.Context, tx pgx.Tx) (int, error) {
		rows, err := tablequery.SelectMany[oneRow](ctx, tx, one, nil)
		return len(rows), err
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
