package protocol

import (
	"encoding/json"
	"strings"

	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

// Inbound message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

// Outbound message types.
const (
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeInitial      = "initial"
	TypeChange       = "change"
	TypeError        = "error"
	TypePong         = "pong"
)

type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Subscribe opens one live query over all of its subscriptions. ID is chosen
// by the client; the server assigns one when it is empty. Channel overrides
// the server's notification channel.
type Subscribe struct {
	Message
	Channel       string         `json:"channel,omitempty"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type Subscription struct {
	Schema string         `json:"schema"`
	Table  string         `json:"table"`
	Filter rowfilter.JSON `json:"filter"`
}

// Target is the table the subscription reads, in schema public by default.
func (s Subscription) Target() tablequery.Table {
	schema := s.Schema
	if schema == "" {
		schema = "public"
	}
	return tablequery.Table{Schema: schema, Name: s.Table}
}

type Unsubscribe struct {
	Message
}

type Subscribed struct {
	Message
	Tables []tablequery.Table `json:"tables"`
}

// Row is a row as sent to clients. Handle identifies the row by primary key
// and is empty for tables without one.
type Row struct {
	Handle string        `json:"handle,omitempty"`
	Data   rowfilter.Row `json:"data"`
}

type Initial struct {
	Message
	Table tablequery.Table `json:"table"`
	Rows  []Row            `json:"rows"`
}

// Change carries the row before and after a change; either side is null when
// it does not pass the subscription's filter.
type Change struct {
	Message
	Table tablequery.Table `json:"table"`
	Old   *Row             `json:"old"`
	New   *Row             `json:"new"`
}

type Error struct {
	Message
	Error string `json:"error"`
}

func NewError(id string, err error) Error {
	return Error{Message: Message{Type: TypeError, ID: id}, Error: err.Error()}
}

// DecodeMessage reads the envelope of an inbound message. Types are matched
// case-insensitively.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	msg.Type = strings.ToLower(msg.Type)
	return msg, nil
}
