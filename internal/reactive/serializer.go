package reactive

import (
	"github.com/zoravur/postgres-live-table/internal/protocol"
	"github.com/zoravur/postgres-live-table/pkg/livequery"
	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

// HandleFunc derives the handle of a row. catalog.Catalog.Handle is one.
type HandleFunc func(t tablequery.Table, row rowfilter.Row) (string, error)

// SerializeRows wraps rows for the wire, attaching a handle to each row that
// has one.
func SerializeRows(handle HandleFunc, t tablequery.Table, rows []rowfilter.Row) []protocol.Row {
	out := make([]protocol.Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, *serializeRow(handle, t, row))
	}
	return out
}

func serializeRow(handle HandleFunc, t tablequery.Table, row rowfilter.Row) *protocol.Row {
	if row == nil {
		return nil
	}
	out := &protocol.Row{Data: row}
	if handle != nil {
		if h, err := handle(t, row); err == nil {
			out.Handle = h
		}
	}
	return out
}

// SerializeEvent turns a live query event into the message sent for session id.
func SerializeEvent(handle HandleFunc, id string, ev livequery.Event) any {
	switch ev := ev.(type) {
	case livequery.Initial:
		return protocol.Initial{
			Message: protocol.Message{Type: protocol.TypeInitial, ID: id},
			Table:   ev.Table,
			Rows:    SerializeRows(handle, ev.Table, ev.Rows),
		}
	case livequery.Change:
		return protocol.Change{
			Message: protocol.Message{Type: protocol.TypeChange, ID: id},
			Table:   ev.Table,
			Old:     serializeRow(handle, ev.Table, ev.Old),
			New:     serializeRow(handle, ev.Table, ev.New),
		}
	}
	return nil
}
