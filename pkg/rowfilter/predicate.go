package rowfilter

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"
)

// Predicate reports whether a row passes a filter.
type Predicate func(Row) bool

// CompilePredicate compiles expr to an in-memory test.
//
// Equal compares the null marker by identity, so a NULL column is "not equal"
// to any non-null value. Minimum and Maximum never match a NULL column.
// Numbers compare exactly by value regardless of their Go type, which lets
// filters built from ints run against rows decoded from JSON.
func CompilePredicate(expr Expr) (Predicate, error) {
	n, err := Normalize(expr)
	if err != nil {
		return nil, err
	}
	return compilePredicate(n)
}

func compilePredicate(expr Expr) (Predicate, error) {
	switch e := expr.(type) {
	case Equal:
		field, value := e.Field, e.Value
		if e.Invert {
			return func(r Row) bool { return !equalValues(r[field], value) }, nil
		}
		return func(r Row) bool { return equalValues(r[field], value) }, nil

	case Minimum:
		field, value, exclusive := e.Field, e.Value, e.Exclusive
		return func(r Row) bool {
			c, ok := compareValues(r[field], value)
			if !ok {
				return false
			}
			return c > 0 || (c == 0 && !exclusive)
		}, nil

	case Maximum:
		field, value, exclusive := e.Field, e.Value, e.Exclusive
		return func(r Row) bool {
			c, ok := compareValues(r[field], value)
			if !ok {
				return false
			}
			return c < 0 || (c == 0 && !exclusive)
		}, nil

	case And:
		fns, err := compileAll(e)
		if err != nil {
			return nil, err
		}
		return func(r Row) bool {
			for _, fn := range fns {
				if !fn(r) {
					return false
				}
			}
			return true
		}, nil

	case Or:
		fns, err := compileAll(e)
		if err != nil {
			return nil, err
		}
		return func(r Row) bool {
			for _, fn := range fns {
				if fn(r) {
					return true
				}
			}
			return false
		}, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownExpr, expr)
	}
}

func compileAll(children []Expr) ([]Predicate, error) {
	fns := make([]Predicate, 0, len(children))
	for _, c := range children {
		fn, err := compilePredicate(c)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

func equalValues(a, b any) bool {
	an, bn := isNull(a), isNull(b)
	if an || bn {
		return an && bn
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two non-null scalars of compatible kinds. ok is false
// when either side is null or the kinds cannot be ordered against each other.
func compareValues(a, b any) (int, bool) {
	if isNull(a) || isNull(b) {
		return 0, false
	}
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		return an.Cmp(bn), true
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
		if bt, ok := b.(time.Time); ok {
			at, err := time.Parse(time.RFC3339Nano, av)
			if err != nil {
				return 0, false
			}
			return at.Compare(bt), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmpBool(av, bv), true
		}
	case time.Time:
		switch bv := b.(type) {
		case time.Time:
			return av.Compare(bv), true
		case string:
			bt, err := time.Parse(time.RFC3339Nano, bv)
			if err != nil {
				return 0, false
			}
			return av.Compare(bt), true
		}
	}
	return 0, false
}

// toNumber widens a numeric scalar to an exact big.Float, so int64 and
// uint64 values beyond 2^53 keep every digit. NaN is not a number here.
func toNumber(v any) (*big.Float, bool) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return new(big.Float).SetInt64(i), true
		}
		f, err := n.Float64()
		if err != nil || math.IsNaN(f) {
			return nil, false
		}
		return new(big.Float).SetFloat64(f), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return new(big.Float).SetInt64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Float).SetUint64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			return nil, false
		}
		return new(big.Float).SetFloat64(f), true
	}
	return nil, false
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
