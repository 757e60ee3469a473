package eventbus

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/agent-relay/pkg/relay"
)

const redisCleanupTimeout = 2 * time.Second

// subscriberStream adapts a Watermill subscription to relay.EventStream.
type subscriberStream struct {
	topic   string
	msgs    <-chan *message.Message
	cancel  context.CancelFunc
	closeFn func() error

	mu       sync.Mutex
	finalErr error

	closeOnce sync.Once
	closeErr  error
}

var _ relay.EventStream = (*subscriberStream)(nil)

func (s *subscriberStream) Next(ctx context.Context) (relay.AgentEvent, error) {
	for {
		s.mu.Lock()
		finalErr := s.finalErr
		s.mu.Unlock()
		if finalErr != nil {
			return nil, finalErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-s.msgs:
			if !ok {
				s.finish(io.EOF)
				return nil, io.EOF
			}
			ev, err := decodeEvent(msg.Payload)
			msg.Ack()
			var malformed errMalformed
			if errors.As(err, &malformed) {
				log.Warn().Str("component", "eventbus").Str("topic", s.topic).Err(err).Msg("dropping malformed agent event")
				continue
			}
			if err != nil {
				s.finish(err)
				return nil, err
			}
			return ev, nil
		}
	}
}

func (s *subscriberStream) finish(err error) {
	s.mu.Lock()
	if s.finalErr == nil {
		s.finalErr = err
	}
	s.mu.Unlock()
}

// Close ends the subscription. It is safe to call more than once.
func (s *subscriberStream) Close() error {
	s.closeOnce.Do(func() {
		s.finish(io.EOF)
		s.cancel()
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}
