package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Observer sees every frame relayed for a session. Implementations must not block.
type Observer interface {
	ObserveInbound(sessionID string, frame string, msg ContentMessage)
	ObserveOutbound(sessionID string, msg WireMessage)
}

type CoordinatorOption func(*Coordinator)

func WithWriteTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.writeTimeout = d }
}

// WithInboundRate limits how fast one connection may push messages to its agent.
// A non-positive limit disables limiting.
func WithInboundRate(limit float64, burst int) CoordinatorOption {
	return func(c *Coordinator) {
		c.inboundRate = rate.Limit(limit)
		c.inboundBurst = burst
	}
}

func WithObserver(o Observer) CoordinatorOption {
	return func(c *Coordinator) { c.observer = o }
}

// Coordinator owns the lifecycle of one relayed connection at a time; it is safe to
// use from many connections concurrently.
type Coordinator struct {
	registry     SessionRegistry
	writeTimeout time.Duration
	inboundRate  rate.Limit
	inboundBurst int
	observer     Observer
}

func NewCoordinator(registry SessionRegistry, opts ...CoordinatorOption) (*Coordinator, error) {
	if registry == nil {
		return nil, errors.New("coordinator registry is nil")
	}
	c := &Coordinator{registry: registry}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type state string

const (
	stateAccepted       state = "accepted"
	stateSessionStarted state = "session_started"
	stateRelaying       state = "relaying"
	stateClosing        state = "closing"
	stateClosed         state = "closed"
)

// Serve relays between conn and a fresh session for sessionID until either side
// ends. It always closes conn. The returned error is non-nil only when the session
// could not be started; relay failures are logged and contained.
func (c *Coordinator) Serve(ctx context.Context, conn Conn, sessionID string) error {
	if conn == nil {
		return errors.New("websocket connection is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	wsLog := log.With().
		Str("component", "relay").
		Str("session_id", sessionID).
		Logger()
	wsLog.Info().Msg("client connected")
	transition(wsLog, stateAccepted)

	sess, err := c.registry.CreateSession(ctx, sessionID)
	if err != nil {
		wsLog.Error().Err(err).Msg("session start failed")
		msg := WireMessage{Error: "failed to start agent session"}
		if b, merr := json.Marshal(msg); merr == nil {
			if c.writeTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if werr := conn.WriteMessage(websocket.TextMessage, b); werr == nil && c.observer != nil {
				c.observer.ObserveOutbound(sessionID, msg)
			}
		}
		_ = closeConn(conn, websocket.CloseInternalServerErr, "session start failed")
		transition(wsLog, stateClosed)
		return errors.Wrap(err, "start session")
	}
	transition(wsLog, stateSessionStarted)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, gctx := errgroup.WithContext(runCtx)

	outbound := &OutboundPump{
		WriteTimeout: c.writeTimeout,
		OnEmit: func(msg WireMessage) {
			sess.Touch()
			if c.observer != nil {
				c.observer.ObserveOutbound(sess.ID, msg)
			}
		},
	}
	inbound := &InboundPump{
		Limiter: c.newLimiter(),
		OnReceive: func(frame string, msg ContentMessage) {
			sess.Touch()
			if c.observer != nil {
				c.observer.ObserveInbound(sess.ID, frame, msg)
			}
		},
	}

	transition(wsLog, stateRelaying)
	eg.Go(func() error {
		defer cancel()
		err := outbound.Run(gctx, conn, sess.Events)
		logPumpEnd(wsLog, "outbound", err)
		return nil
	})
	eg.Go(func() error {
		defer cancel()
		err := inbound.Run(gctx, conn, sess.Queue)
		logPumpEnd(wsLog, "inbound", err)
		return nil
	})
	eg.Go(func() error {
		select {
		case <-gctx.Done():
		case <-sess.Done():
			wsLog.Info().Msg("session closed elsewhere")
			cancel()
		}
		transition(wsLog, stateClosing)
		// unblocks the inbound read
		_ = closeConn(conn, websocket.CloseNormalClosure, "")
		return nil
	})
	_ = eg.Wait()

	c.registry.Remove(sess)
	transition(wsLog, stateClosed)
	wsLog.Info().Msg("client disconnected")
	return nil
}

func (c *Coordinator) newLimiter() *rate.Limiter {
	if c.inboundRate <= 0 {
		return nil
	}
	burst := c.inboundBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(c.inboundRate, burst)
}

func transition(l zerolog.Logger, s state) {
	l.Debug().Str("state", string(s)).Msg("relay state")
}

func logPumpEnd(l zerolog.Logger, pump string, err error) {
	if err == nil {
		l.Debug().Str("pump", pump).Msg("pump finished")
		return
	}
	if errors.Is(err, ErrQueueClosed) {
		l.Debug().Str("pump", pump).Msg("pump stopped: session closed")
		return
	}
	l.Warn().Err(err).Str("pump", pump).Msg("pump stopped")
}
