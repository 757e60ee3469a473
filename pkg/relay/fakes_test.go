package relay

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	writes   []WireMessage
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-c.frames:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	var msg WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.writes = append(c.writes, msg)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(frame string) { c.frames <- []byte(frame) }

// hangup makes the next read report a normal close from the client.
func (c *fakeConn) hangup() { close(c.frames) }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) messages() []WireMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WireMessage(nil), c.writes...)
}

type chanStream struct {
	ch        chan AgentEvent
	err       error
	closed    chan struct{}
	closeOnce sync.Once
}

func newChanStream(buf int) *chanStream {
	return &chanStream{ch: make(chan AgentEvent, buf), closed: make(chan struct{})}
}

func streamOf(events ...AgentEvent) *chanStream {
	s := newChanStream(len(events))
	for _, ev := range events {
		s.ch <- ev
	}
	close(s.ch)
	return s
}

func (s *chanStream) Next(ctx context.Context) (AgentEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, io.EOF
	case ev, ok := <-s.ch:
		if !ok {
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}
		return ev, nil
	}
}

func (s *chanStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type recordingQueue struct {
	mu     sync.Mutex
	pushed []ContentMessage
	closed bool
}

func (q *recordingQueue) Push(msg ContentMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.pushed = append(q.pushed, msg)
	return nil
}

func (q *recordingQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *recordingQueue) messages() []ContentMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ContentMessage(nil), q.pushed...)
}

// echoAgent answers every request with "<session>:<text>" split in two partials,
// then a final text and a turn-complete marker.
type echoAgent struct {
	mu         sync.Mutex
	created    []string
	failCreate error
	failRun    error
	script     []AgentEvent
}

func (a *echoAgent) CreateSession(_ context.Context, userID, sessionID string) (*AgentSession, error) {
	if a.failCreate != nil {
		return nil, a.failCreate
	}
	a.mu.Lock()
	a.created = append(a.created, sessionID)
	a.mu.Unlock()
	return &AgentSession{AppName: "test", UserID: userID, ID: sessionID, CreatedAt: time.Now()}, nil
}

func (a *echoAgent) RunLive(ctx context.Context, sess *AgentSession, requests RequestSource, _ RunConfig) (EventStream, error) {
	if a.failRun != nil {
		return nil, a.failRun
	}
	stream := newChanStream(64)
	go func() {
		defer close(stream.ch)
		for _, ev := range a.script {
			select {
			case stream.ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		for {
			msg, err := requests.Receive(ctx)
			if err != nil {
				return
			}
			reply := sess.ID + ":" + msg.Text()
			half := len(reply) / 2
			for _, ev := range []AgentEvent{
				PartialText{Text: reply[:half]},
				PartialText{Text: reply[half:]},
				FinalText{Text: reply},
				TurnComplete{},
			} {
				select {
				case stream.ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return stream, nil
}

func joinMessages(msgs []WireMessage) []string {
	var out []string
	var cur string
	for _, m := range msgs {
		switch {
		case m.Message != "":
			cur += m.Message
		case m.TurnComplete:
			out = append(out, cur)
			cur = ""
		}
	}
	return out
}
