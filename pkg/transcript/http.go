package transcript

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

type listResponse struct {
	SessionID string  `json:"session_id"`
	Entries   []Entry `json:"entries"`
}

// NewHTTPHandler serves GET ?session_id=&limit= from store.
func NewHTTPHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if store == nil {
			http.Error(w, "transcript store not enabled", http.StatusNotFound)
			return
		}
		sessionID := strings.TrimSpace(req.URL.Query().Get("session_id"))
		if sessionID == "" {
			http.Error(w, "missing session_id", http.StatusBadRequest)
			return
		}
		limit := 0
		if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = v
		}
		entries, err := store.List(req.Context(), sessionID, limit)
		if err != nil {
			log.Warn().Str("component", "transcript").Str("session_id", sessionID).Err(err).Msg("list transcript")
			http.Error(w, "failed to list transcript", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []Entry{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(listResponse{SessionID: sessionID, Entries: entries})
	}
}
