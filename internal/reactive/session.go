package reactive

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/zoravur/postgres-live-table/pkg/livequery"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

// LiveQuery is the part of *livequery.Query a session uses.
type LiveQuery interface {
	All(ctx context.Context) iter.Seq2[livequery.Event, error]
	State() livequery.State
	Close() error
}

// Session is one live query opened on behalf of a websocket client. ID is
// the client's name for it and only unique within Client.
type Session struct {
	ID      string
	Client  string
	Channel string
	Tables  []tablequery.Table
	Remote  string
	Started time.Time
	Query   LiveQuery

	events atomic.Int64
}

// SessionView is the JSON shape of a Session in /api/live.
type SessionView struct {
	ID      string             `json:"id"`
	Client  string             `json:"client,omitempty"`
	Channel string             `json:"channel"`
	Tables  []tablequery.Table `json:"tables"`
	Remote  string             `json:"remote,omitempty"`
	Started time.Time          `json:"started"`
	State   string             `json:"state"`
	Events  int64              `json:"events"`
}

func (s *Session) View() SessionView {
	return SessionView{
		ID:      s.ID,
		Client:  s.Client,
		Channel: s.Channel,
		Tables:  append([]tablequery.Table(nil), s.Tables...),
		Remote:  s.Remote,
		Started: s.Started,
		State:   s.Query.State().String(),
		Events:  s.events.Load(),
	}
}

// Key identifies the session in a Registry.
func (s *Session) Key() string {
	if s.Client == "" {
		return s.ID
	}
	return s.Client + "/" + s.ID
}

// Ended reports whether the query behind the session has stopped.
func (s *Session) Ended() bool {
	switch s.Query.State() {
	case livequery.Closed, livequery.Errored:
		return true
	}
	return false
}
