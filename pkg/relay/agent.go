package relay

import (
	"context"
	"time"
)

// AgentSession identifies one conversational context inside the agent runtime.
type AgentSession struct {
	AppName   string
	UserID    string
	ID        string
	CreatedAt time.Time
}

type Modality string

const ModalityText Modality = "TEXT"

type RunConfig struct {
	ResponseModalities []Modality
}

func DefaultRunConfig() RunConfig {
	return RunConfig{ResponseModalities: []Modality{ModalityText}}
}

// AgentPort is the agent runtime as seen by the relay.
type AgentPort interface {
	CreateSession(ctx context.Context, userID, sessionID string) (*AgentSession, error)
	// RunLive starts a run that consumes requests until they are exhausted or ctx is
	// cancelled, and returns the run's ordered event stream.
	RunLive(ctx context.Context, session *AgentSession, requests RequestSource, cfg RunConfig) (EventStream, error)
}

// EventStream yields the events of one run in order. Next returns io.EOF once the
// run has ended.
type EventStream interface {
	Next(ctx context.Context) (AgentEvent, error)
	Close() error
}

// InputQueue is the write side of a run's request queue. Push never blocks.
type InputQueue interface {
	Push(msg ContentMessage) error
	Close()
}

// RequestSource is the read side of a run's request queue.
type RequestSource interface {
	Receive(ctx context.Context) (ContentMessage, error)
}
