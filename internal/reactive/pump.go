package reactive

import (
	"context"

	"go.uber.org/zap"

	"github.com/zoravur/postgres-live-table/internal/logutil"
	"github.com/zoravur/postgres-live-table/internal/protocol"
)

// Deps are the collaborators a pump needs.
type Deps struct {
	Handle HandleFunc
	Send   func(msg any) error
	Log    *zap.Logger
}

// Pump forwards the events of s to deps.Send until the query ends, ctx is
// done or a send fails. A query failure is sent to the client as an error
// message and returned.
func Pump(ctx context.Context, deps Deps, s *Session) error {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	for ev, err := range s.Query.All(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("live query failed", zap.String("session", s.ID), zap.Error(err))
			_ = deps.Send(protocol.NewError(s.ID, err))
			return err
		}

		msg := SerializeEvent(deps.Handle, s.ID, ev)
		if err := deps.Send(msg); err != nil {
			return err
		}
		n := s.events.Add(1)
		log.Debug("event sent", logutil.Values(
			zap.String("session", s.ID),
			zap.Stringer("table", ev.Source()),
			zap.Int64("events", n),
		))
	}
	return nil
}
