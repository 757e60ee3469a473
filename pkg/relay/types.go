package relay

import "strings"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// FileAttachmentPrefix marks inbound frames announcing an upload made through the
// upload endpoint. Such frames are acknowledged with FileAcknowledgment instead of
// being forwarded verbatim.
const FileAttachmentPrefix = "[File Attachment]"

const FileAcknowledgment = "I've uploaded a file. Please analyze it."

type Part struct {
	Text string `json:"text,omitempty"`
}

// ContentMessage is one message exchanged with the agent.
type ContentMessage struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

func UserText(text string) ContentMessage {
	return ContentMessage{Role: RoleUser, Parts: []Part{{Text: text}}}
}

func ModelText(text string) ContentMessage {
	return ContentMessage{Role: RoleModel, Parts: []Part{{Text: text}}}
}

// Text concatenates all text parts.
func (c ContentMessage) Text() string {
	if len(c.Parts) == 1 {
		return c.Parts[0].Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// AgentEvent is one event of a live agent run. The set of variants is closed:
// PartialText, FinalText, TurnComplete and Interrupted.
type AgentEvent interface {
	agentEvent()
}

// PartialText carries an incremental fragment of the current turn.
type PartialText struct {
	Text string
}

// FinalText carries the aggregated text of a turn once it is done streaming.
type FinalText struct {
	Text string
}

type TurnComplete struct{}

type Interrupted struct{}

func (PartialText) agentEvent()  {}
func (FinalText) agentEvent()    {}
func (TurnComplete) agentEvent() {}
func (Interrupted) agentEvent()  {}

// EventFields is the flag-style shape some runtimes report. Event resolves it to
// exactly one variant: turn complete wins over interrupted, which wins over text.
type EventFields struct {
	Partial      bool
	TurnComplete bool
	Interrupted  bool
	Text         string
}

func (f EventFields) Event() AgentEvent {
	switch {
	case f.TurnComplete:
		return TurnComplete{}
	case f.Interrupted:
		return Interrupted{}
	case f.Partial:
		return PartialText{Text: f.Text}
	default:
		return FinalText{Text: f.Text}
	}
}

// WireMessage is the JSON frame sent to the browser. Exactly one field is set.
type WireMessage struct {
	Message      string `json:"message,omitempty"`
	TurnComplete bool   `json:"turn_complete,omitempty"`
	Interrupted  bool   `json:"interrupted,omitempty"`
	Error        string `json:"error,omitempty"`
}

// WireMessageFor maps an agent event to the frame the client should see. The second
// return value is false for events that are not forwarded.
func WireMessageFor(ev AgentEvent) (WireMessage, bool) {
	switch e := ev.(type) {
	case TurnComplete:
		return WireMessage{TurnComplete: true}, true
	case Interrupted:
		return WireMessage{Interrupted: true}, true
	case PartialText:
		if e.Text == "" {
			return WireMessage{}, false
		}
		return WireMessage{Message: e.Text}, true
	case FinalText:
		// already streamed as partials
		return WireMessage{}, false
	default:
		return WireMessage{}, false
	}
}

// ContentForFrame maps a client text frame to the message pushed to the agent.
func ContentForFrame(frame string) ContentMessage {
	if strings.HasPrefix(frame, FileAttachmentPrefix) {
		return UserText(FileAcknowledgment)
	}
	return UserText(frame)
}
