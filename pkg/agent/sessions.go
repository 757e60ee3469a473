package agent

import (
	"sync"
	"time"

	"github.com/go-go-golems/agent-relay/pkg/relay"
)

type sessionKey struct {
	app, user, id string
}

type sessionState struct {
	session *relay.AgentSession
	history []relay.ContentMessage
}

// SessionService keeps agent sessions and their conversation history in memory.
type SessionService struct {
	mu       sync.Mutex
	sessions map[sessionKey]*sessionState
	now      func() time.Time
}

func NewSessionService() *SessionService {
	return &SessionService{
		sessions: map[sessionKey]*sessionState{},
		now:      time.Now,
	}
}

func keyOf(s *relay.AgentSession) sessionKey {
	return sessionKey{app: s.AppName, user: s.UserID, id: s.ID}
}

// Create starts a fresh session. An existing session with the same key is replaced
// and its history dropped.
func (s *SessionService) Create(appName, userID, sessionID string) *relay.AgentSession {
	sess := &relay.AgentSession{
		AppName:   appName,
		UserID:    userID,
		ID:        sessionID,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.sessions[keyOf(sess)] = &sessionState{session: sess}
	s.mu.Unlock()
	return sess
}

func (s *SessionService) Get(appName, userID, sessionID string) (*relay.AgentSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionKey{app: appName, user: userID, id: sessionID}]
	if !ok {
		return nil, false
	}
	return st.session, true
}

// Append records msg in the history of sess. Replaced or deleted sessions are ignored.
func (s *SessionService) Append(sess *relay.AgentSession, msg relay.ContentMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.current(sess); st != nil {
		st.history = append(st.history, msg)
	}
}

// History returns a copy of the conversation so far.
func (s *SessionService) History(sess *relay.AgentSession) []relay.ContentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.current(sess)
	if st == nil {
		return nil
	}
	out := make([]relay.ContentMessage, len(st.history))
	copy(out, st.history)
	return out
}

// Delete drops sess unless it has been replaced in the meantime.
func (s *SessionService) Delete(sess *relay.AgentSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(sess) != nil {
		delete(s.sessions, keyOf(sess))
	}
}

func (s *SessionService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionService) current(sess *relay.AgentSession) *sessionState {
	if sess == nil {
		return nil
	}
	st, ok := s.sessions[keyOf(sess)]
	if !ok || st.session != sess {
		return nil
	}
	return st
}
