package rowfilter

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// SQL is a compiled condition. Placeholders in Condition are numbered
// consecutively from the compile offset and line up with Params.
type SQL struct {
	Condition string
	Params    []any
}

// ParamCount is the number of placeholders in Condition.
func (s SQL) ParamCount() int { return len(s.Params) }

// Where renders " WHERE <condition>", or "" when the condition is empty and
// every row matches.
func (s SQL) Where() string {
	if s.Condition == "" {
		return ""
	}
	return " WHERE " + s.Condition
}

// CompileSQL compiles expr to a condition over the table aliased as alias.
// Placeholders start at $offset+1. Column and alias names are emitted as
// quoted identifiers and values are only ever bound as parameters.
//
// An empty And compiles to an empty condition, which callers treat as "no
// WHERE clause".
func CompileSQL(expr Expr, alias string, offset int) (SQL, error) {
	n, err := Normalize(expr)
	if err != nil {
		return SQL{}, err
	}
	return compileSQL(n, alias, offset)
}

func compileSQL(expr Expr, alias string, offset int) (SQL, error) {
	switch e := expr.(type) {
	case Equal:
		col := column(alias, e.Field)
		if isNull(e.Value) {
			if e.Invert {
				return SQL{Condition: col + " IS NOT NULL", Params: []any{}}, nil
			}
			return SQL{Condition: col + " IS NULL", Params: []any{}}, nil
		}
		op := "="
		if e.Invert {
			op = "<>"
		}
		return bound(col, op, offset, e.Value), nil

	case Minimum:
		op := ">="
		if e.Exclusive {
			op = ">"
		}
		return bound(column(alias, e.Field), op, offset, e.Value), nil

	case Maximum:
		op := "<="
		if e.Exclusive {
			op = "<"
		}
		return bound(column(alias, e.Field), op, offset, e.Value), nil

	case And:
		return compileJoin(e, " AND ", alias, offset)

	case Or:
		if len(e) == 0 {
			return SQL{Condition: "FALSE", Params: []any{}}, nil
		}
		return compileJoin(e, " OR ", alias, offset)

	default:
		return SQL{}, fmt.Errorf("%w: %T", ErrUnknownExpr, expr)
	}
}

func compileJoin(children []Expr, sep, alias string, offset int) (SQL, error) {
	parts := make([]string, 0, len(children))
	params := make([]any, 0, len(children))

	for _, child := range children {
		s, err := compileSQL(child, alias, offset+len(params))
		if err != nil {
			return SQL{}, err
		}
		params = append(params, s.Params...)

		if s.Condition == "" {
			// a nested empty And: neutral under AND, absorbing under OR
			if sep == " AND " {
				continue
			}
			s.Condition = "TRUE"
		}
		parts = append(parts, s.Condition)
	}

	cond := strings.Join(parts, sep)
	if len(parts) > 1 {
		cond = "(" + cond + ")"
	}
	return SQL{Condition: cond, Params: params}, nil
}

func bound(col, op string, offset int, value any) SQL {
	return SQL{
		Condition: fmt.Sprintf("%s %s $%d", col, op, offset+1),
		Params:    []any{value},
	}
}

func column(alias, field string) string {
	if alias == "" {
		return pgx.Identifier{field}.Sanitize()
	}
	return pgx.Identifier{alias, field}.Sanitize()
}
