package livequery

import (
	"encoding/json"
	"fmt"

	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

// Subscription pairs a table with the filter selecting the rows a Query
// reports for it.
type Subscription struct {
	Table  tablequery.Table
	Filter rowfilter.Expr
}

// Event is either an Initial or a Change.
type Event interface {
	Source() tablequery.Table
	isEvent()
}

// Initial carries the snapshot of one subscription. A Query emits exactly one
// per subscription, in subscription order, before any Change.
type Initial struct {
	Table tablequery.Table
	Rows  []rowfilter.Row
}

// Change reports one row-level change visible through a subscription's
// filter. Old is the row before the change and New the row after it; each is
// nil when it did not exist or did not pass the filter, but never both.
type Change struct {
	Table tablequery.Table
	Old   rowfilter.Row
	New   rowfilter.Row
}

func (e Initial) Source() tablequery.Table { return e.Table }
func (e Change) Source() tablequery.Table  { return e.Table }
func (Initial) isEvent()                   {}
func (Change) isEvent()                    {}

// Op is the statement kind that fired the trigger.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ChangeNotification is the payload the trigger installed by InstallTrigger
// publishes for every affected row.
type ChangeNotification struct {
	Op     Op            `json:"op"`
	Schema string        `json:"schema"`
	Table  string        `json:"table"`
	Old    rowfilter.Row `json:"old"`
	New    rowfilter.Row `json:"new"`
}

// DecodeNotification parses and checks a notification payload. Old must be
// present exactly for UPDATE and DELETE, New exactly for INSERT and UPDATE.
// Row values decode as rowfilter.Row does, so integral numbers are int64.
func DecodeNotification(payload []byte) (ChangeNotification, error) {
	var n ChangeNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return n, &MalformedNotificationError{Payload: string(payload), Err: err}
	}

	var wantOld, wantNew bool
	switch n.Op {
	case OpInsert:
		wantNew = true
	case OpUpdate:
		wantOld, wantNew = true, true
	case OpDelete:
		wantOld = true
	default:
		return n, malformed(payload, "unknown op %q", n.Op)
	}
	if n.Schema == "" || n.Table == "" {
		return n, malformed(payload, "missing schema or table")
	}
	if (n.Old != nil) != wantOld {
		return n, malformed(payload, "old row presence does not match %s", n.Op)
	}
	if (n.New != nil) != wantNew {
		return n, malformed(payload, "new row presence does not match %s", n.Op)
	}
	return n, nil
}

func malformed(payload []byte, format string, args ...any) error {
	return &MalformedNotificationError{Payload: string(payload), Err: fmt.Errorf(format, args...)}
}
