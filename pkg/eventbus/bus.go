package eventbus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/agent-relay/pkg/redisstream"
	"github.com/go-go-golems/agent-relay/pkg/relay"
)

// Bus moves agent events from a run to the connection that consumes them.
// In-memory runs get a private gochannel pub/sub each; with Redis enabled all runs
// share one publisher and read through a per-run consumer group.
type Bus struct {
	logger watermill.LoggerAdapter
	redis  *redisstream.Transport
}

// New builds a bus. It connects to Redis when s.Enabled is set.
func New(ctx context.Context, s redisstream.Settings) (*Bus, error) {
	b := &Bus{logger: NewWatermillLogger(log.Logger)}
	if !s.Enabled {
		return b, nil
	}
	t, err := redisstream.NewTransport(ctx, s, b.logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis event transport")
	}
	b.redis = t
	log.Info().Str("component", "eventbus").Str("addr", s.Addr).Msg("agent events carried over redis streams")
	return b, nil
}

// TopicForRun names the topic of one agent run. The run id keeps two runs of the
// same session apart.
func TopicForRun(sessionID string) string {
	return fmt.Sprintf("agent:%s:%s", sessionID, uuid.NewString())
}

// Open subscribes to topic and returns the run handle. The subscription is live
// before Open returns, so nothing published afterwards is missed.
func (b *Bus) Open(ctx context.Context, topic string) (*Run, error) {
	if b == nil {
		return nil, errors.New("event bus is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is empty")
	}
	if b.redis != nil {
		return b.openRedis(ctx, topic)
	}
	return b.openMemory(topic)
}

func (b *Bus) openMemory(topic string) (*Run, error) {
	// Blocking until ack keeps publish order equal to delivery order.
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            16,
		BlockPublishUntilSubscriberAck: true,
	}, b.logger)
	subCtx, cancel := context.WithCancel(context.Background())
	msgs, err := ch.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		_ = ch.Close()
		return nil, errors.Wrap(err, "subscribe in-memory topic")
	}
	stream := &subscriberStream{
		topic:  topic,
		msgs:   msgs,
		cancel: cancel,
		closeFn: func() error {
			return ch.Close()
		},
	}
	return &Run{topic: topic, pub: ch, stream: stream}, nil
}

func (b *Bus) openRedis(ctx context.Context, topic string) (*Run, error) {
	if err := b.redis.EnsureGroupAtTail(ctx, topic); err != nil {
		return nil, errors.Wrap(err, "ensure redis consumer group")
	}
	sub, err := b.redis.BuildGroupSubscriber("relay:" + topic)
	if err != nil {
		return nil, errors.Wrap(err, "build redis subscriber")
	}
	subCtx, cancel := context.WithCancel(context.Background())
	msgs, err := sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		_ = sub.Close()
		return nil, errors.Wrap(err, "subscribe redis stream")
	}
	stream := &subscriberStream{
		topic:  topic,
		msgs:   msgs,
		cancel: cancel,
		closeFn: func() error {
			err := sub.Close()
			ctx, cancel := context.WithTimeout(context.Background(), redisCleanupTimeout)
			defer cancel()
			if derr := b.redis.DeleteStream(ctx, topic); derr != nil && err == nil {
				err = derr
			}
			return err
		},
	}
	return &Run{topic: topic, pub: b.redis.Publisher, stream: stream}, nil
}

// Close releases the shared Redis transport, if any.
func (b *Bus) Close() error {
	if b == nil || b.redis == nil {
		return nil
	}
	return b.redis.Close()
}

// Run is the publishing side of one agent run together with its event stream.
type Run struct {
	topic  string
	pub    message.Publisher
	stream *subscriberStream
}

func (r *Run) Topic() string { return r.topic }

// Events returns the stream the relay reads. Closing it ends the subscription.
func (r *Run) Events() relay.EventStream { return r.stream }

// Publish sends one event. It blocks until the reader took the event or went away.
func (r *Run) Publish(ev relay.AgentEvent) error {
	msg, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return errors.Wrap(r.pub.Publish(r.topic, msg), "publish agent event")
}

// End publishes the end of the run. A nil cause ends the stream normally.
func (r *Run) End(cause error) error {
	msg, err := encodeEnd(cause)
	if err != nil {
		return err
	}
	return errors.Wrap(r.pub.Publish(r.topic, msg), "publish run end")
}
