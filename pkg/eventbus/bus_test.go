package eventbus

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/agent-relay/pkg/redisstream"
	"github.com/go-go-golems/agent-relay/pkg/relay"
)

func newMemoryBus(t *testing.T) *Bus {
	t.Helper()
	b, err := New(context.Background(), redisstream.Settings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRunDeliversEventsInOrder(t *testing.T) {
	b := newMemoryBus(t)
	run, err := b.Open(context.Background(), TopicForRun("s1"))
	require.NoError(t, err)
	defer run.Events().Close()

	sent := []relay.AgentEvent{
		relay.PartialText{Text: "Hel"},
		relay.PartialText{Text: "lo"},
		relay.FinalText{Text: "Hello"},
		relay.TurnComplete{},
		relay.Interrupted{},
	}
	go func() {
		for _, ev := range sent {
			if err := run.Publish(ev); err != nil {
				return
			}
		}
		_ = run.End(nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []relay.AgentEvent
	for {
		ev, err := run.Events().Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	require.Equal(t, sent, got)

	_, err = run.Events().Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestRunEndWithCauseSurfacesError(t *testing.T) {
	b := newMemoryBus(t)
	run, err := b.Open(context.Background(), TopicForRun("s1"))
	require.NoError(t, err)
	defer run.Events().Close()

	go func() { _ = run.End(errors.New("model unavailable")) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = run.Events().Next(ctx)
	require.EqualError(t, err, "model unavailable")
}

func TestNextHonorsContext(t *testing.T) {
	b := newMemoryBus(t)
	run, err := b.Open(context.Background(), TopicForRun("s1"))
	require.NoError(t, err)
	defer run.Events().Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = run.Events().Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPublishAfterCloseDoesNotBlock(t *testing.T) {
	b := newMemoryBus(t)
	run, err := b.Open(context.Background(), TopicForRun("s1"))
	require.NoError(t, err)
	require.NoError(t, run.Events().Close())
	require.NoError(t, run.Events().Close())

	done := make(chan struct{})
	go func() {
		_ = run.Publish(relay.PartialText{Text: "late"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked after the stream was closed")
	}

	_, err = run.Events().Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestRunsAreIsolated(t *testing.T) {
	b := newMemoryBus(t)
	a, err := b.Open(context.Background(), TopicForRun("same"))
	require.NoError(t, err)
	defer a.Events().Close()
	c, err := b.Open(context.Background(), TopicForRun("same"))
	require.NoError(t, err)
	defer c.Events().Close()
	require.NotEqual(t, a.Topic(), c.Topic())

	go func() { _ = a.Publish(relay.FinalText{Text: "for a"}) }()
	go func() { _ = c.Publish(relay.FinalText{Text: "for c"}) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := a.Events().Next(ctx)
	require.NoError(t, err)
	require.Equal(t, relay.FinalText{Text: "for a"}, ev)
	ev, err = c.Events().Next(ctx)
	require.NoError(t, err)
	require.Equal(t, relay.FinalText{Text: "for c"}, ev)
}

func TestOpenValidatesTopic(t *testing.T) {
	b := newMemoryBus(t)
	_, err := b.Open(context.Background(), "")
	require.Error(t, err)

	var nilBus *Bus
	_, err = nilBus.Open(context.Background(), "t")
	require.Error(t, err)
}
