// Package livequery streams the rows of a set of filtered tables: first a
// consistent snapshot per table, then every row-level change that is visible
// through the filters, as published by the trigger InstallTrigger creates.
package livequery

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

// State is the lifecycle stage of a Query.
type State int32

const (
	Unstarted State = iota
	SettingUp
	Live
	TearingDown
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case SettingUp:
		return "setting-up"
	case Live:
		return "live"
	case TearingDown:
		return "tearing-down"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	}
	return "unknown"
}

const (
	DefaultBuffer          = 64
	DefaultTeardownTimeout = 5 * time.Second
)

type Option func(*Query)

// WithLogger sets the logger for dropped notifications and teardown failures.
func WithLogger(l *zap.Logger) Option {
	return func(q *Query) { q.log = l }
}

// WithBuffer bounds the number of events held for a slow consumer. Once full,
// the Query stops reading notifications until the consumer catches up.
func WithBuffer(n int) Option {
	return func(q *Query) {
		if n >= 0 {
			q.buffer = n
		}
	}
}

// WithTeardownTimeout bounds UNLISTEN and connection close during teardown.
func WithTeardownTimeout(d time.Duration) Option {
	return func(q *Query) { q.teardownTimeout = d }
}

type subscription struct {
	Subscription
	match rowfilter.Predicate
}

// Query is a live view over a set of subscriptions, backed by one dedicated
// connection. Nothing touches the database until the first call to Next.
type Query struct {
	dial            Dialer
	channel         string
	subs            []subscription
	log             *zap.Logger
	buffer          int
	teardownTimeout time.Duration

	mu       sync.Mutex
	state    State
	closing  bool
	err      error
	reported bool
	cancel   context.CancelFunc
	events   chan Event
	done     chan struct{}
}

// New validates the subscriptions and compiles their filters. Filters are
// normalized here, so a bad filter fails New rather than the stream.
func New(dial Dialer, channel string, subs []Subscription, opts ...Option) (*Query, error) {
	if dial == nil {
		return nil, errors.New("livequery: nil dialer")
	}
	if channel == "" {
		return nil, errors.New("livequery: empty channel name")
	}

	q := &Query{
		dial:            dial,
		channel:         channel,
		log:             zap.NewNop(),
		buffer:          DefaultBuffer,
		teardownTimeout: DefaultTeardownTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}

	for _, s := range subs {
		if s.Table.Name == "" {
			return nil, errors.New("livequery: subscription without a table name")
		}
		if s.Table.Schema == "" {
			s.Table.Schema = "public"
		}
		filter, err := rowfilter.Normalize(s.Filter)
		if err != nil {
			return nil, err
		}
		match, err := rowfilter.CompilePredicate(filter)
		if err != nil {
			return nil, err
		}
		s.Filter = filter
		q.subs = append(q.subs, subscription{Subscription: s, match: match})
	}
	return q, nil
}

// State reports where the Query is in its lifecycle.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Next returns the next event. The first call opens the connection and takes
// the snapshot. A failure of the Query is returned once; after that, and after
// Close, Next returns io.EOF. A ctx error only abandons this call.
func (q *Query) Next(ctx context.Context) (Event, error) {
	q.mu.Lock()
	if q.closing {
		q.mu.Unlock()
		return nil, io.EOF
	}
	if q.state == Unstarted {
		q.start()
	}
	events := q.events
	q.mu.Unlock()

	select {
	case ev, ok := <-events:
		if !ok {
			return nil, q.terminal()
		}
		if q.isClosing() {
			return nil, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// All ranges over the events until the Query ends. A failure is yielded as
// the final element.
func (q *Query) All(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := q.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Close stops the Query and waits for teardown, which releases the connection.
// It is safe to call more than once and from any goroutine. Teardown failures
// are logged, not returned.
func (q *Query) Close() error {
	q.mu.Lock()
	q.closing = true
	if q.done == nil {
		q.state = Closed
		q.mu.Unlock()
		return nil
	}
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	cancel()
	<-done
	return nil
}

// start must be called with q.mu held.
func (q *Query) start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.events = make(chan Event, q.buffer)
	q.done = make(chan struct{})
	q.state = SettingUp
	go q.run(ctx)
}

func (q *Query) run(ctx context.Context) {
	defer close(q.done)
	defer close(q.events)

	conn, err := q.dial(ctx)
	if err != nil {
		q.fail(&ConnectionError{Op: "connect", Err: err})
		return
	}
	listening := false
	defer func() { q.teardown(conn, listening) }()

	initial, err := q.setup(ctx, conn, &listening)
	if err != nil {
		q.fail(err)
		return
	}
	if !q.transition(SettingUp, Live) {
		return
	}
	for _, ev := range initial {
		if !q.emit(ctx, ev) {
			return
		}
	}
	if err := q.listen(ctx, conn); err != nil {
		q.fail(err)
	}
}

// setup takes every snapshot and subscribes to the channel inside one
// transaction, so no change committed after the snapshots can be missed.
// Snapshots are held back until COMMIT succeeds.
func (q *Query) setup(ctx context.Context, conn Conn, listening *bool) ([]Event, error) {
	if _, err := conn.Exec(ctx, "BEGIN"); err != nil {
		return nil, &ConnectionError{Op: "begin", Err: err}
	}

	initial := make([]Event, 0, len(q.subs))
	for _, s := range q.subs {
		if q.isClosing() {
			q.rollback(conn)
			return nil, nil
		}
		rows, err := tablequery.Select[rowfilter.Row](ctx, conn, s.Table, s.Filter, tablequery.ForShare)
		if err != nil {
			q.rollback(conn)
			return nil, &ConnectionError{Op: "snapshot " + s.Table.String(), Err: err}
		}
		initial = append(initial, Initial{Table: s.Table, Rows: rows})
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{q.channel}.Sanitize()); err != nil {
		q.rollback(conn)
		return nil, &ConnectionError{Op: "listen", Err: err}
	}
	if _, err := conn.Exec(ctx, "COMMIT"); err != nil {
		q.rollback(conn)
		return nil, &ConnectionError{Op: "commit", Err: err}
	}
	*listening = true
	return initial, nil
}

func (q *Query) listen(ctx context.Context, conn Conn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &ConnectionError{Op: "wait for notification", Err: err}
		}
		for _, ev := range q.handle(n) {
			if !q.emit(ctx, ev) {
				return nil
			}
		}
	}
}

// handle turns one notification into zero or more events, one per matching
// subscription. Both rows are filtered; a change is reported if either side
// passes.
func (q *Query) handle(n *pgconn.Notification) []Event {
	if n == nil || n.Channel != q.channel || n.Payload == "" {
		return nil
	}
	change, err := DecodeNotification([]byte(n.Payload))
	if err != nil {
		q.log.Debug("dropping notification",
			zap.String("channel", n.Channel),
			zap.Uint32("pid", n.PID),
			zap.Error(err),
		)
		return nil
	}

	var out []Event
	for _, s := range q.subs {
		if s.Table.Schema != change.Schema || s.Table.Name != change.Table {
			continue
		}
		var before, after rowfilter.Row
		if change.Old != nil && s.match(change.Old) {
			before = change.Old
		}
		if change.New != nil && s.match(change.New) {
			after = change.New
		}
		if before == nil && after == nil {
			continue
		}
		out = append(out, Change{Table: s.Table, Old: before, New: after})
	}
	return out
}

func (q *Query) emit(ctx context.Context, ev Event) bool {
	if q.isClosing() {
		return false
	}
	select {
	case q.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *Query) rollback(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), q.teardownTimeout)
	defer cancel()
	if _, err := conn.Exec(ctx, "ROLLBACK"); err != nil {
		q.log.Debug("rollback failed", zap.String("channel", q.channel), zap.Error(err))
	}
}

// teardown runs exactly once per started Query, after the notification loop
// has returned.
func (q *Query) teardown(conn Conn, listening bool) {
	q.mu.Lock()
	if q.state != Errored {
		q.state = TearingDown
	}
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), q.teardownTimeout)
	defer cancel()
	if listening {
		if _, err := conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{q.channel}.Sanitize()); err != nil {
			q.log.Warn("unlisten failed", zap.String("channel", q.channel), zap.Error(err))
		}
	}
	if err := conn.Close(ctx); err != nil {
		q.log.Warn("closing connection failed", zap.String("channel", q.channel), zap.Error(err))
	}

	q.mu.Lock()
	if q.state != Errored {
		q.state = Closed
	}
	q.mu.Unlock()
}

func (q *Query) transition(from, to State) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closing || q.state != from {
		return false
	}
	q.state = to
	return true
}

// fail records err as the terminal error. Failures caused by Close are not
// errors.
func (q *Query) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closing || q.err != nil {
		return
	}
	q.err = err
	q.state = Errored
}

func (q *Query) terminal() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil && !q.reported && !q.closing {
		q.reported = true
		return q.err
	}
	return io.EOF
}

func (q *Query) isClosing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closing
}
