package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrRegistryFull  = errors.New("session registry is full")
	ErrSessionClosed = errors.New("session closed")
)

// SessionRegistry creates and tracks live sessions by client id.
type SessionRegistry interface {
	CreateSession(ctx context.Context, id string) (*Session, error)
	Get(id string) (*Session, bool)
	Remove(s *Session)
	Count() int
}

type RegistryOptions struct {
	BaseCtx   context.Context
	Agent     AgentPort
	RunConfig RunConfig
	// MaxSessions caps the number of live sessions; zero means unlimited.
	MaxSessions int
}

// MemoryRegistry keeps sessions in a map. Creating a session for an id that is
// already live replaces it: the previous session is closed and its connection torn
// down by its coordinator.
type MemoryRegistry struct {
	baseCtx     context.Context
	agent       AgentPort
	runConfig   RunConfig
	maxSessions int

	mu       sync.Mutex
	sessions map[string]*Session

	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
}

var _ SessionRegistry = &MemoryRegistry{}

func NewMemoryRegistry(opts RegistryOptions) (*MemoryRegistry, error) {
	if opts.BaseCtx == nil {
		return nil, errors.New("session registry base context is nil")
	}
	if opts.Agent == nil {
		return nil, errors.New("session registry agent is nil")
	}
	cfg := opts.RunConfig
	if len(cfg.ResponseModalities) == 0 {
		cfg = DefaultRunConfig()
	}
	return &MemoryRegistry{
		baseCtx:     opts.BaseCtx,
		agent:       opts.Agent,
		runConfig:   cfg,
		maxSessions: opts.MaxSessions,
		sessions:    map[string]*Session{},
	}, nil
}

func (r *MemoryRegistry) CreateSession(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("missing session id")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !r.hasRoomFor(id) {
		return nil, ErrRegistryFull
	}

	agentSess, err := r.agent.CreateSession(ctx, id, id)
	if err != nil {
		return nil, errors.Wrap(err, "create agent session")
	}
	runCtx, cancel := context.WithCancel(r.baseCtx)
	queue := NewLiveRequestQueue()
	events, err := r.agent.RunLive(runCtx, agentSess, queue, r.runConfig)
	if err != nil {
		cancel()
		queue.Close()
		return nil, errors.Wrap(err, "start agent run")
	}
	s := newSession(id, agentSess, events, queue, cancel)

	r.mu.Lock()
	prev, replacing := r.sessions[id]
	if !replacing && r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		s.Close()
		return nil, ErrRegistryFull
	}
	r.sessions[id] = s
	r.mu.Unlock()

	if replacing && prev != nil {
		log.Info().Str("component", "relay").Str("session_id", id).Msg("session replaced by new connection")
		prev.Close()
	}
	return s, nil
}

func (r *MemoryRegistry) hasRoomFor(id string) bool {
	if r.maxSessions <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return true
	}
	return len(r.sessions) < r.maxSessions
}

func (r *MemoryRegistry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[strings.TrimSpace(id)]
	return s, ok
}

// Remove forgets s if it is still the live session for its id, then closes it.
func (r *MemoryRegistry) Remove(s *Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	if current, ok := r.sessions[s.ID]; ok && current == s {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()
	s.Close()
}

func (r *MemoryRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every live session. Used on shutdown.
func (r *MemoryRegistry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
