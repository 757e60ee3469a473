package relay

import (
	"time"

	"github.com/gorilla/websocket"
)

type MessageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// Conn is the part of *websocket.Conn the relay uses.
type Conn interface {
	MessageReader
	MessageWriter
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// controlWriter is implemented by *websocket.Conn; WriteControl may run concurrently
// with WriteMessage.
type controlWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

const closeGracePeriod = time.Second

func closeConn(conn Conn, code int, reason string) error {
	if conn == nil {
		return nil
	}
	if cw, ok := conn.(controlWriter); ok {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = cw.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	}
	return conn.Close()
}

// isNormalClose reports whether err is the client going away in an expected manner.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
