package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Transport bundles the Redis client and the shared publisher used for agent events.
type Transport struct {
	Client    redis.UniversalClient
	Publisher message.Publisher
	settings  Settings
	logger    watermill.LoggerAdapter
}

// NewTransport connects to Redis and builds a Watermill publisher on top of it.
func NewTransport(ctx context.Context, s Settings, logger watermill.LoggerAdapter) (*Transport, error) {
	s = s.normalized()
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", s.Addr)
	}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis stream publisher")
	}
	return &Transport{Client: client, Publisher: pub, settings: s, logger: logger}, nil
}

// BuildGroupSubscriber returns a subscriber in the transport's consumer group. Each
// stream gets its own consumer name so that readers never steal each other's messages.
// The subscriber owns a dedicated client because closing a subscriber closes its client.
func (t *Transport) BuildGroupSubscriber(consumer string) (message.Subscriber, error) {
	client := redis.NewClient(&redis.Options{Addr: t.settings.Addr})
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: t.settings.Group,
		Consumer:      consumer,
	}, t.logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return sub, nil
}

func (t *Transport) Group() string { return t.settings.Group }

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func (t *Transport) EnsureGroupAtTail(ctx context.Context, stream string) error {
	err := t.Client.XGroupCreateMkStream(ctx, stream, t.settings.Group, "$").Err()
	if err != nil {
		// Ignore BUSYGROUP errors (group already exists)
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Debug().Str("stream", stream).Str("group", t.settings.Group).Msg("created redis consumer group at $ (tail)")
	return nil
}

// DeleteStream drops a finished run's stream key.
func (t *Transport) DeleteStream(ctx context.Context, stream string) error {
	return t.Client.Del(ctx, stream).Err()
}

func (t *Transport) Close() error {
	var firstErr error
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			firstErr = err
		}
	}
	// the publisher may already have closed the shared client
	if err := t.Client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
