package eventbus

import (
	"encoding/json"
	"io"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/go-go-golems/agent-relay/pkg/relay"
)

const (
	typePartialText  = "partial_text"
	typeFinalText    = "final_text"
	typeTurnComplete = "turn_complete"
	typeInterrupted  = "interrupted"
	typeRunEnd       = "run_end"
	typeRunError     = "run_error"
)

// envelope is the JSON payload of every bus message.
type envelope struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func encodeEvent(ev relay.AgentEvent) (*message.Message, error) {
	var env envelope
	switch e := ev.(type) {
	case relay.PartialText:
		env = envelope{Type: typePartialText, Text: e.Text}
	case relay.FinalText:
		env = envelope{Type: typeFinalText, Text: e.Text}
	case relay.TurnComplete:
		env = envelope{Type: typeTurnComplete}
	case relay.Interrupted:
		env = envelope{Type: typeInterrupted}
	default:
		return nil, errors.Errorf("unknown agent event %T", ev)
	}
	return marshalEnvelope(env)
}

// encodeEnd marks the end of a run. A non-nil cause is delivered to the reader as an error.
func encodeEnd(cause error) (*message.Message, error) {
	if cause != nil {
		return marshalEnvelope(envelope{Type: typeRunError, Error: cause.Error()})
	}
	return marshalEnvelope(envelope{Type: typeRunEnd})
}

func marshalEnvelope(env envelope) (*message.Message, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal event envelope")
	}
	return message.NewMessage(watermill.NewUUID(), b), nil
}

// decodeEvent returns the event carried by payload. The end of a run is reported
// as io.EOF and a failed run as a plain error.
func decodeEvent(payload []byte) (relay.AgentEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errMalformed{errors.Wrap(err, "unmarshal event envelope")}
	}
	switch env.Type {
	case typePartialText:
		return relay.PartialText{Text: env.Text}, nil
	case typeFinalText:
		return relay.FinalText{Text: env.Text}, nil
	case typeTurnComplete:
		return relay.TurnComplete{}, nil
	case typeInterrupted:
		return relay.Interrupted{}, nil
	case typeRunEnd:
		return nil, io.EOF
	case typeRunError:
		return nil, errors.New(env.Error)
	default:
		return nil, errMalformed{errors.Errorf("unknown event type %q", env.Type)}
	}
}

type errMalformed struct{ error }
