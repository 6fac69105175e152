package rowfilter

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

type sqlCase struct {
	name   string
	expr   Expr
	offset int
	want   string
	params []any
}

var sqlCases = []sqlCase{
	{"eq null", Equal{Field: "a", Value: nil}, 0, `"t"."a" IS NULL`, []any{}},
	{"eq null inverted", Equal{Field: "a", Value: nil, Invert: true}, 10, `"t"."a" IS NOT NULL`, []any{}},
	{"eq", Equal{Field: "a", Value: 0}, 0, `"t"."a" = $1`, []any{0}},
	{"eq inverted", Equal{Field: "a", Value: "", Invert: true}, 10, `"t"."a" <> $11`, []any{""}},
	{"min", Minimum{Field: "a", Value: 0}, 0, `"t"."a" >= $1`, []any{0}},
	{"min exclusive", Minimum{Field: "a", Value: "", Exclusive: true}, 10, `"t"."a" > $11`, []any{""}},
	{"max", Maximum{Field: "a", Value: ""}, 0, `"t"."a" <= $1`, []any{""}},
	{"max exclusive", Maximum{Field: "a", Value: 0, Exclusive: true}, 10, `"t"."a" < $11`, []any{0}},
	{"and single child", And{Equal{Field: "a", Value: ""}}, 0, `"t"."a" = $1`, []any{""}},
	{
		"and two children",
		And{Equal{Field: "a", Value: ""}, Equal{Field: "b", Value: 0}},
		20,
		`("t"."a" = $21 AND "t"."b" = $22)`,
		[]any{"", 0},
	},
	{
		"or nested and",
		Or{
			Equal{Field: "a", Value: "yes"},
			And{Minimum{Field: "b", Value: -10}, Maximum{Field: "b", Value: 10, Exclusive: true}},
		},
		0,
		`("t"."a" = $1 OR ("t"."b" >= $2 AND "t"."b" < $3))`,
		[]any{"yes", -10, 10},
	},
	{
		"or with shorthand",
		Or{
			Equal{Field: "a", Value: "yes"},
			And{Minimum{Field: "b", Value: -10}, Maximum{Field: "b", Value: 10, Exclusive: true}},
			Fields{{"a", "ok"}},
			Fields{{"a", "cool"}, {"b", -100}},
			Fields{{"b", nil}},
		},
		0,
		`("t"."a" = $1 OR ("t"."b" >= $2 AND "t"."b" < $3) OR "t"."a" = $4 OR ("t"."a" = $5 AND "t"."b" = $6) OR "t"."b" IS NULL)`,
		[]any{"yes", -10, 10, "ok", "cool", -100},
	},
	{"empty shorthand", Fields{}, 0, "", []any{}},
	{"nil", nil, 0, "", []any{}},
	{"empty or", Or{}, 0, "FALSE", []any{}},
	{
		"nested empty and",
		And{Equal{Field: "a", Value: 1}, And{}, Equal{Field: "b", Value: 2}},
		0,
		`("t"."a" = $1 AND "t"."b" = $2)`,
		[]any{1, 2},
	},
	{
		"or absorbs empty and",
		Or{Equal{Field: "a", Value: 1}, Fields{}},
		0,
		`("t"."a" = $1 OR TRUE)`,
		[]any{1},
	},
	{"quoted identifier", Equal{Field: `we"ird`, Value: 1}, 0, `"t"."we""ird" = $1`, []any{1}},
}

func TestCompileSQL(t *testing.T) {
	for _, c := range sqlCases {
		t.Run(c.name, func(t *testing.T) {
			got, err := CompileSQL(c.expr, "t", c.offset)
			if err != nil {
				t.Fatalf("CompileSQL: %v", err)
			}
			if got.Condition != c.want {
				t.Fatalf("condition\nwant: %s\ngot:  %s", c.want, got.Condition)
			}
			if !reflect.DeepEqual(got.Params, c.params) {
				t.Fatalf("params: want %#v, got %#v", c.params, got.Params)
			}
			if got.ParamCount() != len(c.params) {
				t.Fatalf("param count: want %d, got %d", len(c.params), got.ParamCount())
			}
		})
	}
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

func TestCompileSQLPlaceholderNumbering(t *testing.T) {
	for _, c := range sqlCases {
		for _, offset := range []int{0, 3, 41} {
			got, err := CompileSQL(c.expr, "t", offset)
			if err != nil {
				t.Fatalf("%s: %v", c.name, err)
			}
			matches := placeholder.FindAllStringSubmatch(got.Condition, -1)
			if len(matches) != got.ParamCount() {
				t.Fatalf("%s@%d: %d placeholders for %d params", c.name, offset, len(matches), got.ParamCount())
			}
			for i, m := range matches {
				n, _ := strconv.Atoi(m[1])
				if n != offset+i+1 {
					t.Fatalf("%s@%d: placeholder %d is $%d, want $%d", c.name, offset, i, n, offset+i+1)
				}
			}
		}
	}
}

func TestCompileSQLParses(t *testing.T) {
	for _, c := range sqlCases {
		got, err := CompileSQL(c.expr, "t", 0)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		stmt := fmt.Sprintf(`SELECT 1 FROM "public"."x" AS "t"%s`, got.Where())
		if _, err := pg_query.Parse(stmt); err != nil {
			t.Fatalf("%s: %q does not parse: %v", c.name, stmt, err)
		}
	}
}

func TestCompileSQLWithoutAlias(t *testing.T) {
	got, err := CompileSQL(Fields{{"id", 4}}, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Condition != `"id" = $1` {
		t.Fatalf("got %q", got.Condition)
	}
}

type bogus struct{}

func (bogus) isExpr() {}

func TestCompileUnknownExpr(t *testing.T) {
	if _, err := CompileSQL(And{bogus{}}, "t", 0); err == nil {
		t.Fatal("expected error for unknown node")
	}
	if _, err := CompilePredicate(Or{bogus{}}); err == nil {
		t.Fatal("expected error for unknown node")
	}
}
