package livequery

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeConn serves canned snapshot rows keyed by quoted table identifier and
// hands out notifications pushed on notes.
type fakeConn struct {
	mu      sync.Mutex
	execs   []string
	closed  int
	tables  map[string][]string
	failOn  map[string]error
	notes   chan *pgconn.Notification
	blocked chan struct{}
	block   bool
}

func newFakeConn(tables map[string][]string) *fakeConn {
	return &fakeConn{
		tables:  tables,
		failOn:  map[string]error{},
		notes:   make(chan *pgconn.Notification, 16),
		blocked: make(chan struct{}, 1),
	}
}

func (c *fakeConn) dialer(dials *int) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if dials != nil {
			*dials++
		}
		return c, nil
	}
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, sql)
	for prefix, err := range c.failOn {
		if strings.HasPrefix(sql, prefix) {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.NewCommandTag(strings.Fields(sql)[0]), nil
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.mu.Lock()
	block := c.block
	c.mu.Unlock()
	if block {
		c.blocked <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failOn["SELECT"]; ok {
		return nil, err
	}
	for ident, rows := range c.tables {
		if strings.Contains(sql, "FROM "+ident+" ") {
			return &fakeRows{data: rows}, nil
		}
	}
	return nil, errors.New("relation does not exist")
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n, ok := <-c.notes:
		if !ok {
			return nil, errors.New("unexpected EOF")
		}
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) notify(channel, payload string) {
	c.notes <- &pgconn.Notification{PID: 42, Channel: channel, Payload: payload}
}

func (c *fakeConn) snapshot() (execs []string, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...), c.closed
}

type fakeRows struct {
	data []string
	i    int
}

func (r *fakeRows) Close()                        {}
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	return []pgconn.FieldDescription{{Name: "o"}}
}
func (r *fakeRows) Values() ([]any, error) { return []any{r.data[r.i-1]}, nil }
func (r *fakeRows) RawValues() [][]byte    { return [][]byte{[]byte(r.data[r.i-1])} }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return json.Unmarshal([]byte(r.data[r.i-1]), dest[0])
}
