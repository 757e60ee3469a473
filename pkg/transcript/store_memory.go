package transcript

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps at most maxPerSession entries per session, dropping the oldest.
type InMemoryStore struct {
	mu            sync.Mutex
	maxPerSession int
	seq           int64
	sessions      map[string][]Entry
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore(maxPerSession int) *InMemoryStore {
	if maxPerSession <= 0 {
		maxPerSession = 1000
	}
	return &InMemoryStore{
		maxPerSession: maxPerSession,
		sessions:      map[string][]Entry{},
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Append(_ context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	if e.CreatedAtMs == 0 {
		e.CreatedAtMs = time.Now().UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.Seq = s.seq
	entries := append(s.sessions[e.SessionID], e)
	if len(entries) > s.maxPerSession {
		entries = append([]Entry(nil), entries[len(entries)-s.maxPerSession:]...)
	}
	s.sessions[e.SessionID] = entries
	return nil
}

func (s *InMemoryStore) List(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.sessions[sessionID]
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}
