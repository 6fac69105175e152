package rowfilter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Decode parses the JSON form of a filter:
//
//	{"op":"eq","field":"name","value":"two","invert":false}
//	{"op":"min","field":"age","value":18,"exclusive":false}
//	{"op":"max","field":"age","value":65,"exclusive":true}
//	{"op":"and","filter":[...]}
//	{"op":"or","filter":[...]}
//
// Any other object is a Fields shorthand and keeps its key order. JSON null
// decodes to a nil Expr, which matches every row. Integral numbers decode to
// int64 and other numbers to float64.
func Decode(data []byte) (Expr, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] != '{' {
		return nil, errors.New("rowfilter: filter must be a JSON object")
	}

	var head struct {
		Op *string `json:"op"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("rowfilter: %w", err)
	}
	if head.Op == nil {
		return decodeFields(data)
	}

	switch op := strings.ToLower(*head.Op); op {
	case "eq":
		var w struct {
			Field  string          `json:"field"`
			Value  json.RawMessage `json:"value"`
			Invert bool            `json:"invert"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("rowfilter: eq: %w", err)
		}
		if w.Field == "" {
			return nil, errors.New("rowfilter: eq: missing field")
		}
		v, err := decodeValue(w.Value)
		if err != nil {
			return nil, err
		}
		return Equal{Field: w.Field, Value: v, Invert: w.Invert}, nil

	case "min", "max":
		var w struct {
			Field     string          `json:"field"`
			Value     json.RawMessage `json:"value"`
			Exclusive bool            `json:"exclusive"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("rowfilter: %s: %w", op, err)
		}
		if w.Field == "" {
			return nil, fmt.Errorf("rowfilter: %s: missing field", op)
		}
		v, err := decodeValue(w.Value)
		if err != nil {
			return nil, err
		}
		if op == "min" {
			return Minimum{Field: w.Field, Value: v, Exclusive: w.Exclusive}, nil
		}
		return Maximum{Field: w.Field, Value: v, Exclusive: w.Exclusive}, nil

	case "and", "or":
		var w struct {
			Filter []json.RawMessage `json:"filter"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("rowfilter: %s: %w", op, err)
		}
		children := make([]Expr, 0, len(w.Filter))
		for _, raw := range w.Filter {
			c, err := Decode(raw)
			if err != nil {
				return nil, err
			}
			if c == nil {
				c = And{}
			}
			children = append(children, c)
		}
		if op == "and" {
			return And(children), nil
		}
		return Or(children), nil

	default:
		return nil, fmt.Errorf("%w: op %q", ErrUnknownExpr, op)
	}
}

// JSON wraps an Expr so it can sit in a struct decoded with encoding/json.
type JSON struct {
	Expr Expr
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	e, err := Decode(data)
	if err != nil {
		return err
	}
	j.Expr = e
	return nil
}

// UnmarshalJSON decodes a JSON object into r. Integral numbers become int64
// and other numbers float64, the same as filter values, so bigint columns
// keep every digit.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		m[k] = numbers(v)
	}
	*r = m
	return nil
}

func decodeFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("rowfilter: %w", err)
	}
	out := Fields{}
	seen := map[string]bool{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("rowfilter: %w", err)
		}
		name := tok.(string)
		if seen[name] {
			return nil, &DuplicateFieldError{Name: name}
		}
		seen[name] = true

		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("rowfilter: field %q: %w", name, err)
		}
		out = append(out, Field{Name: name, Value: numbers(v)})
	}
	return out, nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("rowfilter: value: %w", err)
	}
	return numbers(v), nil
}

// numbers replaces json.Number leaves with int64 or float64.
func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = numbers(t[i])
		}
	case map[string]any:
		for k := range t {
			t[k] = numbers(t[k])
		}
	}
	return v
}
