// Package catalog introspects the tables clients may query: their columns in
// ordinal order and their primary keys. It backs request validation and row
// handles.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

var ErrUnknownTable = errors.New("unknown table")

// UnknownColumnError is a filter or row naming a column the table lacks.
type UnknownColumnError struct {
	Table  tablequery.Table
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("%s has no column %q", e.Table, e.Column)
}

type Column struct {
	Name    string `json:"name"`
	Ordinal int    `json:"ordinal"`
	Type    string `json:"type"`
	NotNull bool   `json:"notNull"`
}

type Table struct {
	Schema  string   `json:"schema"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	PK      []string `json:"primaryKey,omitempty"`
}

// Has reports whether the table has a column called name.
func (t *Table) Has(name string) bool {
	return slices.ContainsFunc(t.Columns, func(c Column) bool { return c.Name == name })
}

type Snapshot struct {
	Tables      []Table   `json:"tables"`
	Checksum    string    `json:"checksum"`
	GeneratedAt time.Time `json:"generatedAt"`

	byTable map[tablequery.Table]*Table
}

// Catalog caches the latest Snapshot. It is safe for concurrent use.
type Catalog struct {
	db      tablequery.Querier
	schemas []string
	log     *zap.Logger

	mu   sync.RWMutex
	snap Snapshot
}

func New(db tablequery.Querier, schemas []string, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{db: db, schemas: schemas, log: log}
}

// Snapshot returns the latest snapshot. Callers must not modify it.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Lookup returns the table t names, if it was present at the last refresh.
func (c *Catalog) Lookup(t tablequery.Table) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tbl, ok := c.snap.byTable[t]
	return tbl, ok
}

func (c *Catalog) Columns(t tablequery.Table) ([]string, bool) {
	tbl, ok := c.Lookup(t)
	if !ok {
		return nil, false
	}
	cols := make([]string, len(tbl.Columns))
	for i, col := range tbl.Columns {
		cols[i] = col.Name
	}
	return cols, true
}

func (c *Catalog) PrimaryKeys(t tablequery.Table) ([]string, bool) {
	tbl, ok := c.Lookup(t)
	if !ok {
		return nil, false
	}
	return slices.Clone(tbl.PK), true
}

// Validate checks that t exists and that every field filter refers to is one
// of its columns.
func (c *Catalog) Validate(t tablequery.Table, filter rowfilter.Expr) error {
	tbl, ok := c.Lookup(t)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, t)
	}
	fields, err := rowfilter.Referenced(filter)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if !tbl.Has(f) {
			return &UnknownColumnError{Table: t, Column: f}
		}
	}
	return nil
}

// Refresh reloads the catalog and reports whether it changed.
func (c *Catalog) Refresh(ctx context.Context) (bool, error) {
	snap, err := c.introspect(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Checksum == c.snap.Checksum {
		return false, nil
	}
	c.snap = snap
	return true, nil
}

// StartAutoRefresh reloads the catalog every interval until ctx is done or
// the returned stop func is called.
func (c *Catalog) StartAutoRefresh(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				changed, err := c.Refresh(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.log.Warn("catalog refresh failed", zap.Error(err))
					}
					continue
				}
				if changed {
					c.log.Info("catalog changed", zap.String("checksum", c.Snapshot().Checksum))
				}
			}
		}
	}()
	return func() { cancel(); <-done }
}

const introspectSQL = `
SELECT n.nspname AS schema_name,
       c.relname AS table_name,
       a.attnum::int AS ordinal,
       a.attname AS column_name,
       pg_catalog.format_type(a.atttypid, a.atttypmod) AS type_name,
       a.attnotnull AS not_null,
       array_position(i.indkey::int2[], a.attnum) AS pk_position
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid AND a.attnum > 0 AND NOT a.attisdropped
LEFT JOIN pg_catalog.pg_index i ON i.indrelid = c.oid AND i.indisprimary
WHERE c.relkind IN ('r', 'p', 'v', 'm')
  AND n.nspname = ANY($1)
ORDER BY n.nspname, c.relname, a.attnum`

type columnRow struct {
	Schema     string
	Table      string
	Ordinal    int
	Name       string
	Type       string
	NotNull    bool
	PKPosition *int
}

func (c *Catalog) introspect(ctx context.Context) (Snapshot, error) {
	rows, err := c.db.Query(ctx, introspectSQL, c.schemas)
	if err != nil {
		return Snapshot{}, fmt.Errorf("introspect catalog: %w", err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowToStructByPos[columnRow])
	if err != nil {
		return Snapshot{}, fmt.Errorf("introspect catalog: %w", err)
	}
	return build(cols), nil
}

// build assembles a snapshot from column rows sorted by schema, table and
// ordinal.
func build(cols []columnRow) Snapshot {
	var tables []Table
	pkPos := map[tablequery.Table]map[string]int{}
	for _, col := range cols {
		key := tablequery.Table{Schema: col.Schema, Name: col.Table}
		if n := len(tables); n == 0 || tables[n-1].Schema != col.Schema || tables[n-1].Name != col.Table {
			tables = append(tables, Table{Schema: col.Schema, Name: col.Table})
		}
		t := &tables[len(tables)-1]
		t.Columns = append(t.Columns, Column{Name: col.Name, Ordinal: col.Ordinal, Type: col.Type, NotNull: col.NotNull})
		if col.PKPosition != nil {
			if pkPos[key] == nil {
				pkPos[key] = map[string]int{}
			}
			pkPos[key][col.Name] = *col.PKPosition
			t.PK = append(t.PK, col.Name)
		}
	}

	byTable := make(map[tablequery.Table]*Table, len(tables))
	for i := range tables {
		t := &tables[i]
		key := tablequery.Table{Schema: t.Schema, Name: t.Name}
		pos := pkPos[key]
		sort.SliceStable(t.PK, func(a, b int) bool { return pos[t.PK[a]] < pos[t.PK[b]] })
		byTable[key] = t
	}

	b, _ := json.Marshal(tables)
	hash := sha256.Sum256(b)
	return Snapshot{
		Tables:      tables,
		Checksum:    hex.EncodeToString(hash[:]),
		GeneratedAt: time.Now(),
		byTable:     byTable,
	}
}
