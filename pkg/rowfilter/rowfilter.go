// Package rowfilter is a small predicate language over table rows.
//
// A filter is a tree of Equal, Minimum, Maximum, And and Or nodes. Fields is
// shorthand for an And of Equals and is expanded by Normalize before either
// compiler runs. The same tree compiles to a parameterized PostgreSQL
// condition (CompileSQL) or to an in-memory test over decoded rows
// (CompilePredicate).
package rowfilter

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// Row is a decoded table row, keyed by column name.
type Row map[string]any

// Expr is any filter node. The zero value (nil) matches every row.
type Expr interface {
	isExpr()
}

// Equal matches rows whose Field equals Value. A nil Value compares against
// NULL. Invert flips the comparison.
type Equal struct {
	Field  string
	Value  any
	Invert bool
}

// Minimum is a lower bound on Field: >= Value, or > Value when Exclusive.
type Minimum struct {
	Field     string
	Value     any
	Exclusive bool
}

// Maximum is an upper bound on Field: <= Value, or < Value when Exclusive.
type Maximum struct {
	Field     string
	Value     any
	Exclusive bool
}

// And matches rows matched by every child. An empty And matches every row.
type And []Expr

// Or matches rows matched by any child. An empty Or matches nothing.
type Or []Expr

// Field is one column/value pair of a Fields shorthand.
type Field struct {
	Name  string
	Value any
}

// Fields is shorthand for an And of Equal filters, one per pair, in order.
// Names must be unique.
type Fields []Field

func (Equal) isExpr()   {}
func (Minimum) isExpr() {}
func (Maximum) isExpr() {}
func (And) isExpr()     {}
func (Or) isExpr()      {}
func (Fields) isExpr()  {}

// ErrUnknownExpr is returned when a tree holds a node type this package does
// not define.
var ErrUnknownExpr = errors.New("rowfilter: unknown expression")

// DuplicateFieldError reports a Fields shorthand naming a column twice.
type DuplicateFieldError struct {
	Name string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("rowfilter: field %q appears more than once", e.Name)
}

// Eq is shorthand for Equal{Field: field, Value: value}.
func Eq(field string, value any) Equal { return Equal{Field: field, Value: value} }

// Ne is shorthand for an inverted Equal.
func Ne(field string, value any) Equal { return Equal{Field: field, Value: value, Invert: true} }

// FromMap builds a Fields shorthand from a map. Go maps are unordered, so the
// pairs are sorted by name to keep parameter numbering stable.
func FromMap(m map[string]any) Fields {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Fields, 0, len(names))
	for _, name := range names {
		out = append(out, Field{Name: name, Value: m[name]})
	}
	return out
}

// Names returns the column names of the shorthand in order.
func (f Fields) Names() []string {
	out := make([]string, len(f))
	for i, p := range f {
		out[i] = p.Name
	}
	return out
}

// Values returns the values of the shorthand in order.
func (f Fields) Values() []any {
	out := make([]any, len(f))
	for i, p := range f {
		out[i] = p.Value
	}
	return out
}

// Normalize rewrites expr so that every node, recursively, is one of Equal,
// Minimum, Maximum, And or Or. A nil expr becomes an empty And.
func Normalize(expr Expr) (Expr, error) {
	switch e := expr.(type) {
	case nil:
		return And{}, nil
	case Equal, Minimum, Maximum:
		return e, nil
	case *Equal:
		return *e, nil
	case *Minimum:
		return *e, nil
	case *Maximum:
		return *e, nil
	case Fields:
		seen := make(map[string]struct{}, len(e))
		out := make(And, 0, len(e))
		for _, p := range e {
			if _, dup := seen[p.Name]; dup {
				return nil, &DuplicateFieldError{Name: p.Name}
			}
			seen[p.Name] = struct{}{}
			out = append(out, Equal{Field: p.Name, Value: p.Value})
		}
		return out, nil
	case And:
		children, err := normalizeAll(e)
		return And(children), err
	case Or:
		children, err := normalizeAll(e)
		return Or(children), err
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownExpr, expr)
	}
}

func normalizeAll(children []Expr) ([]Expr, error) {
	out := make([]Expr, 0, len(children))
	for _, c := range children {
		n, err := Normalize(c)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Referenced lists the distinct field names expr tests, in first-use order.
func Referenced(expr Expr) ([]string, error) {
	n, err := Normalize(expr)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]bool{}
	var walk func(Expr)
	walk = func(e Expr) {
		var name string
		switch e := e.(type) {
		case Equal:
			name = e.Field
		case Minimum:
			name = e.Field
		case Maximum:
			name = e.Field
		case And:
			for _, c := range e {
				walk(c)
			}
			return
		case Or:
			for _, c := range e {
				walk(c)
			}
			return
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	walk(n)
	return out, nil
}

// isNull reports whether v is the null marker: nil, or a nil pointer, map,
// slice or interface.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
