package relay

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// OutboundPump forwards agent events to the client socket, one frame per event that
// has a client-facing meaning.
type OutboundPump struct {
	WriteTimeout time.Duration
	// OnEmit, when set, is called after each frame was written.
	OnEmit func(WireMessage)
}

// Run returns nil when the stream ends or ctx is cancelled, and an error when the
// stream fails or a write fails.
func (p *OutboundPump) Run(ctx context.Context, w MessageWriter, events EventStream) error {
	for {
		ev, err := events.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "agent event stream")
		}

		msg, ok := WireMessageFor(ev)
		if !ok {
			continue
		}
		if err := p.write(w, msg); err != nil {
			return err
		}
		if p.OnEmit != nil {
			p.OnEmit(msg)
		}
	}
}

func (p *OutboundPump) write(w MessageWriter, msg WireMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal wire message")
	}
	if p.WriteTimeout > 0 {
		_ = w.SetWriteDeadline(time.Now().Add(p.WriteTimeout))
	}
	if err := w.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Wrap(err, "write wire message")
	}
	return nil
}
