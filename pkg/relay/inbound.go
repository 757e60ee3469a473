package relay

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// InboundPump forwards client frames to the agent input queue.
type InboundPump struct {
	// Limiter, when set, paces pushes into the queue.
	Limiter *rate.Limiter
	// OnReceive, when set, is called with every frame and the message pushed for it.
	OnReceive func(frame string, msg ContentMessage)
}

// Run returns nil when the client closes the socket normally or ctx is cancelled.
func (p *InboundPump) Run(ctx context.Context, r MessageReader, queue InputQueue) error {
	for {
		_, data, err := r.ReadMessage()
		if err != nil {
			if isNormalClose(err) || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read client frame")
		}

		frame := string(data)
		msg := ContentForFrame(frame)
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "inbound rate limit")
			}
		}
		if err := queue.Push(msg); err != nil {
			return errors.Wrap(err, "push to agent")
		}
		if p.OnReceive != nil {
			p.OnReceive(frame, msg)
		}
	}
}
