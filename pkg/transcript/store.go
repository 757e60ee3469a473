package transcript

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

const defaultListLimit = 200

// Entry is one relayed frame. Frame holds the raw inbound frame when the agent
// received something other than it, such as an attachment acknowledgment.
type Entry struct {
	Seq          int64     `json:"seq"`
	SessionID    string    `json:"session_id"`
	Direction    Direction `json:"direction"`
	Text         string    `json:"text,omitempty"`
	Frame        string    `json:"frame,omitempty"`
	TurnComplete bool      `json:"turn_complete,omitempty"`
	Interrupted  bool      `json:"interrupted,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAtMs  int64     `json:"created_at_ms"`
}

// Store persists transcript entries per session. List returns the most recent
// entries in relay order.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Close() error
}

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.SessionID) == "" {
		return errors.New("transcript entry: session id is empty")
	}
	if e.Direction != DirectionInbound && e.Direction != DirectionOutbound {
		return errors.Errorf("transcript entry: invalid direction %q", e.Direction)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
