package agent

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/agent-relay/pkg/relay"
)

// Responder produces the model side of one turn. It calls emit for every chunk as
// it becomes available and returns the complete reply.
type Responder interface {
	Respond(ctx context.Context, def Definition, history []relay.ContentMessage, emit func(chunk string) error) (string, error)
}

// EchoResponder answers with the last user message, streamed word by word. It
// needs no credentials and backs local development and tests.
type EchoResponder struct {
	Prefix string
	Delay  time.Duration
}

func (e EchoResponder) Respond(ctx context.Context, _ Definition, history []relay.ContentMessage, emit func(chunk string) error) (string, error) {
	text := e.Prefix + lastUserText(history)
	var sb strings.Builder
	for _, chunk := range strings.SplitAfter(text, " ") {
		if chunk == "" {
			continue
		}
		if e.Delay > 0 {
			t := time.NewTimer(e.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return sb.String(), ctx.Err()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return sb.String(), err
		}
		if err := emit(chunk); err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}

func lastUserText(history []relay.ContentMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == relay.RoleUser {
			return history[i].Text()
		}
	}
	return ""
}
