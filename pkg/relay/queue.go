package relay

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrQueueClosed = errors.New("input queue closed")

// LiveRequestQueue is an unbounded FIFO between the inbound pump and the agent run.
type LiveRequestQueue struct {
	mu     sync.Mutex
	items  []ContentMessage
	notify chan struct{}
	closed bool
}

var (
	_ InputQueue    = &LiveRequestQueue{}
	_ RequestSource = &LiveRequestQueue{}
)

func NewLiveRequestQueue() *LiveRequestQueue {
	return &LiveRequestQueue{notify: make(chan struct{}, 1)}
}

func (q *LiveRequestQueue) Push(msg ContentMessage) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Receive blocks until a message is available. Messages pushed before Close are
// still delivered; after that Receive returns ErrQueueClosed.
func (q *LiveRequestQueue) Receive(ctx context.Context) (ContentMessage, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = ContentMessage{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return ContentMessage{}, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return ContentMessage{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *LiveRequestQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *LiveRequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *LiveRequestQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
