package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Session is one live agent run bound to a client id.
type Session struct {
	ID        string
	Agent     *AgentSession
	Events    EventStream
	Queue     InputQueue
	CreatedAt time.Time

	lastActivity atomic.Int64
	cancel       context.CancelFunc
	done         chan struct{}
	closeOnce    sync.Once
}

func newSession(id string, agentSess *AgentSession, events EventStream, queue InputQueue, cancel context.CancelFunc) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		Agent:     agentSess,
		Events:    events,
		Queue:     queue,
		CreatedAt: now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

func (s *Session) Touch() {
	if s == nil {
		return
	}
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) LastActivity() time.Time {
	if s == nil {
		return time.Time{}
	}
	return time.Unix(0, s.lastActivity.Load())
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops accepting input, cancels the agent run and releases the event stream.
// It is safe to call more than once.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		if s.Queue != nil {
			s.Queue.Close()
		}
		if s.cancel != nil {
			s.cancel()
		}
		if s.Events != nil {
			_ = s.Events.Close()
		}
		close(s.done)
	})
}
