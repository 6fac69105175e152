package livequery_test

import (
	"context"
	cryptorand "crypto/rand"
	"embed"
	"os"
	"testing"
	"time"

	faker "github.com/go-faker/faker/v4"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/postgres-live-table/pkg/fixgres"
	"github.com/zoravur/postgres-live-table/pkg/livequery"
	"github.com/zoravur/postgres-live-table/pkg/prng"
	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
	"github.com/zoravur/postgres-live-table/pkg/streamwait"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

//go:embed testmigrations/*.sql
var migrations embed.FS

const channel = "table_changes"

var (
	one    = tablequery.Table{Schema: "public", Name: "one"}
	people = tablequery.Table{Schema: "public", Name: "people"}
)

func TestMain(m *testing.M) {
	code := m.Run()
	_ = fixgres.ShutdownNow()
	os.Exit(code)
}

func sandbox(t *testing.T) *fixgres.Sandbox {
	t.Helper()
	sbx := fixgres.NewSandbox(t, fixgres.WithGooseUp(migrations, "testmigrations"))
	for _, tbl := range []tablequery.Table{one, people} {
		require.NoError(t, livequery.InstallTrigger(context.Background(), sbx.Pool, channel, tbl))
	}
	return sbx
}

func next(t *testing.T, q *livequery.Query) livequery.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := q.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestLiveQuery(t *testing.T) {
	ctx := context.Background()
	sbx := sandbox(t)

	q, err := livequery.New(livequery.Connect(sbx.DSN), channel, []livequery.Subscription{{
		Table:  one,
		Filter: rowfilter.Or{rowfilter.Eq("name", "two"), rowfilter.Eq("name", "four")},
	}})
	require.NoError(t, err)
	defer q.Close()

	require.Equal(t, livequery.Initial{
		Table: one,
		Rows:  []rowfilter.Row{{"id": int64(2), "name": "two"}},
	}, next(t, q))

	_, err = sbx.Pool.Exec(ctx, `INSERT INTO public.one(id, name) VALUES (4, 'four')`)
	require.NoError(t, err)
	require.Equal(t, livequery.Change{
		Table: one,
		New:   rowfilter.Row{"id": int64(4), "name": "four"},
	}, next(t, q))

	// neither side of this change passes the filter
	_, err = sbx.Pool.Exec(ctx, `DELETE FROM public.one WHERE id = 1`)
	require.NoError(t, err)

	_, err = sbx.Pool.Exec(ctx, `DELETE FROM public.one WHERE id = 4`)
	require.NoError(t, err)
	require.Equal(t, livequery.Change{
		Table: one,
		Old:   rowfilter.Row{"id": int64(4), "name": "four"},
	}, next(t, q))

	require.NoError(t, q.Close())
	require.Equal(t, livequery.Closed, q.State())
}

type person struct {
	Name string `faker:"first_name"`
	Age  int    `faker:"boundary_start=18, boundary_end=90"`
}

func TestLiveQueryFollowsRowsAcrossFilter(t *testing.T) {
	faker.SetCryptoSource(prng.New(42))
	defer faker.SetCryptoSource(cryptorand.Reader)

	ctx := context.Background()
	sbx := sandbox(t)

	q, err := livequery.New(livequery.FromPool(sbx.Pool), channel, []livequery.Subscription{
		{Table: people, Filter: rowfilter.Minimum{Field: "age", Value: 50}},
	}, livequery.WithBuffer(1))
	require.NoError(t, err)
	defer q.Close()

	require.Equal(t, livequery.Initial{Table: people, Rows: []rowfilter.Row{}}, next(t, q))

	var want []rowfilter.Row
	for range 8 {
		var p person
		require.NoError(t, faker.FakeData(&p))
		row, err := tablequery.InsertOne[rowfilter.Row](ctx, sbx.Pool, people, rowfilter.Fields{
			{Name: "name", Value: p.Name},
			{Name: "age", Value: p.Age},
		})
		require.NoError(t, err)
		if p.Age >= 50 {
			want = append(want, row)
		}
	}
	for _, row := range want {
		require.Equal(t, livequery.Change{Table: people, New: row}, next(t, q))
	}

	young, err := tablequery.InsertOne[rowfilter.Row](ctx, sbx.Pool, people, rowfilter.Fields{
		{Name: "name", Value: "young"},
		{Name: "age", Value: 20},
	})
	require.NoError(t, err)
	id := int(young["id"].(int64))
	aged, err := tablequery.UpdateOne[rowfilter.Row](ctx, sbx.Pool, people,
		rowfilter.Fields{{Name: "id", Value: id}},
		rowfilter.Fields{{Name: "age", Value: 60}},
	)
	require.NoError(t, err)
	require.Equal(t, livequery.Change{Table: people, New: aged}, next(t, q))

	_, err = tablequery.UpdateOne[rowfilter.Row](ctx, sbx.Pool, people,
		rowfilter.Fields{{Name: "id", Value: id}},
		rowfilter.Fields{{Name: "age", Value: 30}},
	)
	require.NoError(t, err)
	require.Equal(t, livequery.Change{Table: people, Old: aged}, next(t, q))
}

func TestDropTriggerSilencesTable(t *testing.T) {
	ctx := context.Background()
	sbx := sandbox(t)
	require.NoError(t, livequery.DropTrigger(ctx, sbx.Pool, channel, one))

	q, err := livequery.New(livequery.Connect(sbx.DSN), channel, []livequery.Subscription{{Table: one}, {Table: people}})
	require.NoError(t, err)
	defer q.Close()

	initial, err := streamwait.Take[livequery.Event](ctx, q, 2)
	require.NoError(t, err)
	require.Len(t, initial, 2)

	_, err = sbx.Pool.Exec(ctx, `INSERT INTO public.one(name) VALUES ('three')`)
	require.NoError(t, err)
	_, err = sbx.Pool.Exec(ctx, `INSERT INTO public.people(name, age) VALUES ('p', 40)`)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ev, ok, err := streamwait.Wait[livequery.Event](waitCtx, q, func(ev livequery.Event) bool {
		_, isChange := ev.(livequery.Change)
		return isChange
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, people, ev.Source())
}
