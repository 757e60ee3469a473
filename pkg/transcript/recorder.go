package transcript

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/agent-relay/pkg/relay"
)

const appendTimeout = 2 * time.Second

// Recorder turns relayed frames into transcript entries. Frames are queued and
// written by Run so the relay pumps never wait on storage; when the queue is full
// entries are dropped.
type Recorder struct {
	store   Store
	entries chan Entry
	dropped atomic.Int64
}

var _ relay.Observer = (*Recorder)(nil)

func NewRecorder(store Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{store: store, entries: make(chan Entry, buffer)}
}

func (r *Recorder) ObserveInbound(sessionID string, frame string, msg relay.ContentMessage) {
	e := Entry{
		SessionID: sessionID,
		Direction: DirectionInbound,
		Text:      msg.Text(),
	}
	if frame != e.Text {
		e.Frame = frame
	}
	r.enqueue(e)
}

func (r *Recorder) ObserveOutbound(sessionID string, msg relay.WireMessage) {
	r.enqueue(Entry{
		SessionID:    sessionID,
		Direction:    DirectionOutbound,
		Text:         msg.Message,
		TurnComplete: msg.TurnComplete,
		Interrupted:  msg.Interrupted,
		Error:        msg.Error,
	})
}

func (r *Recorder) enqueue(e Entry) {
	e.CreatedAtMs = time.Now().UnixMilli()
	select {
	case r.entries <- e:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Warn().Str("component", "transcript").Str("session_id", e.SessionID).Int64("dropped", n).Msg("transcript queue full, dropping entries")
		}
	}
}

// Dropped reports how many entries were discarded because the queue was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Run writes queued entries until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case e := <-r.entries:
			r.write(context.Background(), e)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.entries:
			r.write(context.Background(), e)
		default:
			return
		}
	}
}

func (r *Recorder) write(parent context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(parent, appendTimeout)
	defer cancel()
	if err := r.store.Append(ctx, e); err != nil {
		log.Warn().Str("component", "transcript").Str("session_id", e.SessionID).Err(err).Msg("append transcript entry")
	}
}
