package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Handler carries out the requests a client can make.
type Handler interface {
	Subscribe(ctx context.Context, sub Subscribe) error
	Unsubscribe(ctx context.Context, id string) error
}

// HandleMessage decodes raw and routes it to h. Malformed input and handler
// failures are answered with an error message through send; only a failing
// send is returned.
func HandleMessage(ctx context.Context, raw []byte, h Handler, send func(any) error) error {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return send(NewError("", fmt.Errorf("invalid JSON: %w", err)))
	}

	switch msg.Type {
	case TypePing:
		return send(Message{Type: TypePong, ID: msg.ID})

	case TypeSubscribe:
		var sub Subscribe
		if err := json.Unmarshal(raw, &sub); err != nil {
			return send(NewError(msg.ID, fmt.Errorf("bad subscribe: %w", err)))
		}
		if len(sub.Subscriptions) == 0 {
			return send(NewError(msg.ID, errors.New("no subscriptions")))
		}
		if err := h.Subscribe(ctx, sub); err != nil {
			return send(NewError(msg.ID, err))
		}
		return nil

	case TypeUnsubscribe:
		if err := h.Unsubscribe(ctx, msg.ID); err != nil {
			return send(NewError(msg.ID, err))
		}
		return send(Message{Type: TypeUnsubscribed, ID: msg.ID})

	default:
		return send(NewError(msg.ID, fmt.Errorf("unknown message type %q", msg.Type)))
	}
}
