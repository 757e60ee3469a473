package agent

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/agent-relay/pkg/eventbus"
	"github.com/go-go-golems/agent-relay/pkg/relay"
)

var ErrUnsupportedModality = errors.New("unsupported response modality")

// agentFailureText is shown to the user when a turn fails inside the responder.
const agentFailureText = "Sorry, the agent could not answer that."

type RuntimeOptions struct {
	AppName    string
	Definition Definition
	Sessions   *SessionService
	Responder  Responder
	Bus        *eventbus.Bus
}

// Runtime runs agent turns for live sessions. It implements relay.AgentPort.
type Runtime struct {
	appName   string
	def       Definition
	sessions  *SessionService
	responder Responder
	bus       *eventbus.Bus
}

var _ relay.AgentPort = (*Runtime)(nil)

func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	if opts.Responder == nil {
		return nil, errors.New("agent responder is nil")
	}
	if opts.Bus == nil {
		return nil, errors.New("agent event bus is nil")
	}
	if opts.Sessions == nil {
		opts.Sessions = NewSessionService()
	}
	if opts.Definition.Name == "" {
		opts.Definition = DefaultDefinition()
	}
	if opts.AppName == "" {
		opts.AppName = opts.Definition.Name
	}
	return &Runtime{
		appName:   opts.AppName,
		def:       opts.Definition,
		sessions:  opts.Sessions,
		responder: opts.Responder,
		bus:       opts.Bus,
	}, nil
}

func (r *Runtime) Definition() Definition { return r.def }

func (r *Runtime) CreateSession(ctx context.Context, userID, sessionID string) (*relay.AgentSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, errors.New("session id is empty")
	}
	return r.sessions.Create(r.appName, userID, sessionID), nil
}

// RunLive subscribes to a fresh run topic and starts consuming requests. The
// returned stream ends when requests are exhausted or ctx is cancelled.
func (r *Runtime) RunLive(ctx context.Context, session *relay.AgentSession, requests relay.RequestSource, cfg relay.RunConfig) (relay.EventStream, error) {
	if session == nil {
		return nil, errors.New("agent session is nil")
	}
	if requests == nil {
		return nil, errors.New("request source is nil")
	}
	for _, m := range cfg.ResponseModalities {
		if m != relay.ModalityText {
			return nil, errors.Wrapf(ErrUnsupportedModality, "%q", m)
		}
	}
	run, err := r.bus.Open(ctx, eventbus.TopicForRun(session.ID))
	if err != nil {
		return nil, errors.Wrap(err, "open event run")
	}
	go r.loop(ctx, session, requests, run)
	return run.Events(), nil
}

type turn struct {
	cancel    context.CancelFunc
	done      chan struct{}
	completed atomic.Bool
}

func (r *Runtime) loop(ctx context.Context, session *relay.AgentSession, requests relay.RequestSource, run *eventbus.Run) {
	logger := log.With().Str("component", "agent").Str("session_id", session.ID).Str("topic", run.Topic()).Logger()
	defer r.sessions.Delete(session)

	incoming := make(chan relay.ContentMessage)
	go func() {
		defer close(incoming)
		for {
			msg, err := requests.Receive(ctx)
			if err != nil {
				return
			}
			select {
			case incoming <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	var current *turn
	stop := func() {
		if current == nil {
			return
		}
		current.cancel()
		<-current.done
	}

	for {
		var turnDone chan struct{}
		if current != nil {
			turnDone = current.done
		}
		select {
		case <-ctx.Done():
			stop()
			logger.Debug().Msg("agent run cancelled")
			return
		case <-turnDone:
			current = nil
		case msg, ok := <-incoming:
			if !ok {
				if current != nil {
					<-current.done
				}
				if err := run.End(nil); err != nil {
					logger.Debug().Err(err).Msg("publish run end")
				}
				return
			}
			if current != nil {
				stop()
				if !current.completed.Load() {
					if err := run.Publish(relay.Interrupted{}); err != nil {
						logger.Debug().Err(err).Msg("publish interrupted")
						return
					}
				}
				current = nil
			}
			r.sessions.Append(session, msg)
			current = r.startTurn(ctx, session, run)
		}
	}
}

func (r *Runtime) startTurn(ctx context.Context, session *relay.AgentSession, run *eventbus.Run) *turn {
	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{cancel: cancel, done: make(chan struct{})}
	history := r.sessions.History(session)
	go func() {
		defer close(t.done)
		defer cancel()
		if r.runTurn(turnCtx, session, run, history) {
			t.completed.Store(true)
		}
	}()
	return t
}

// runTurn streams one reply. It reports whether the turn reached turn_complete.
func (r *Runtime) runTurn(ctx context.Context, session *relay.AgentSession, run *eventbus.Run, history []relay.ContentMessage) bool {
	logger := log.With().Str("component", "agent").Str("session_id", session.ID).Logger()
	emit := func(chunk string) error {
		return run.Publish(relay.PartialText{Text: chunk})
	}
	text, err := r.responder.Respond(ctx, r.def, history, emit)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		logger.Warn().Err(err).Msg("agent turn failed")
		text = agentFailureText
		if perr := emit(text); perr != nil {
			return false
		}
	} else {
		r.sessions.Append(session, relay.ModelText(text))
	}
	if err := run.Publish(relay.FinalText{Text: text}); err != nil {
		return false
	}
	if err := run.Publish(relay.TurnComplete{}); err != nil {
		return false
	}
	return true
}
