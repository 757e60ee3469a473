package relay

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionIDFunc extracts the client session id from an upgrade request.
type SessionIDFunc func(*http.Request) string

// PathSessionID reads the {session_id} wildcard of a ServeMux pattern such as
// "/ws/{session_id}".
func PathSessionID(req *http.Request) string {
	return req.PathValue("session_id")
}

func NewUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// no auth, any origin
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// NewWSHTTPHandler upgrades the request and serves it with the coordinator. The
// handler returns when the relay has been torn down.
func NewWSHTTPHandler(c *Coordinator, sessionID SessionIDFunc, upgrader websocket.Upgrader) http.HandlerFunc {
	if sessionID == nil {
		sessionID = PathSessionID
	}
	return func(w http.ResponseWriter, req *http.Request) {
		if c == nil {
			http.Error(w, "relay not initialized", http.StatusServiceUnavailable)
			return
		}
		id := strings.TrimSpace(sessionID(req))
		if id == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Debug().Err(err).Str("component", "relay").Str("session_id", id).Msg("websocket upgrade failed")
			return
		}
		_ = c.Serve(req.Context(), conn, id)
	}
}
