package catalog

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

var ErrNoPrimaryKey = errors.New("table has no primary key")

// EncodeHandle returns a canonical base64 string of the form
//
//	public.actor|{"actor_id":5,"seq":3}
//
// with the key columns in primary key order.
func EncodeHandle(t tablequery.Table, key rowfilter.Fields) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(t.Schema + "." + t.Name + "|{")
	for i, f := range key {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return "", err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return "", fmt.Errorf("key %s: %w", f.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeHandle parses a handle made by EncodeHandle. Schema names containing
// a dot are not supported.
func DecodeHandle(h string) (tablequery.Table, rowfilter.Fields, error) {
	b, err := base64.RawURLEncoding.DecodeString(h)
	if err != nil {
		return tablequery.Table{}, nil, fmt.Errorf("invalid base64: %w", err)
	}

	path, keyPart, ok := strings.Cut(string(b), "|")
	if !ok {
		return tablequery.Table{}, nil, fmt.Errorf("malformed handle")
	}
	schema, table, ok := strings.Cut(path, ".")
	if !ok || schema == "" || table == "" {
		return tablequery.Table{}, nil, fmt.Errorf("malformed table path")
	}

	expr, err := rowfilter.Decode([]byte(keyPart))
	if err != nil {
		return tablequery.Table{}, nil, fmt.Errorf("malformed key: %w", err)
	}
	key, ok := expr.(rowfilter.Fields)
	if !ok || len(key) == 0 {
		return tablequery.Table{}, nil, fmt.Errorf("malformed key")
	}
	return tablequery.Table{Schema: schema, Name: table}, key, nil
}

// Handle identifies row of t by its primary key. It fails for tables without
// one and for rows missing a key column.
func (c *Catalog) Handle(t tablequery.Table, row rowfilter.Row) (string, error) {
	pk, ok := c.PrimaryKeys(t)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTable, t)
	}
	if len(pk) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoPrimaryKey, t)
	}
	key := make(rowfilter.Fields, len(pk))
	for i, col := range pk {
		v, ok := row[col]
		if !ok {
			return "", &UnknownColumnError{Table: t, Column: col}
		}
		key[i] = rowfilter.Field{Name: col, Value: v}
	}
	return EncodeHandle(t, key)
}
