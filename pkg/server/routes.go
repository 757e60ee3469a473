package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-go-golems/agent-relay/pkg/relay"
	"github.com/go-go-golems/agent-relay/pkg/transcript"
	"github.com/go-go-golems/agent-relay/pkg/upload"
)

// Handler returns the full route table wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServerFS(s.staticFS)))
	mux.HandleFunc("/ws/{session_id}", relay.NewWSHTTPHandler(s.coordinator, relay.PathSessionID, relay.NewUpgrader()))
	mux.HandleFunc("/upload", upload.NewMultipartHandler(s.uploads))
	mux.HandleFunc("/upload-base64", upload.NewBase64Handler(s.uploads))
	mux.HandleFunc("/api/transcript", transcript.NewHTTPHandler(s.transcripts))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return withCORS(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, req *http.Request) {
	http.ServeFileFS(w, req, s.staticFS, "index.html")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.registry.Count(),
	})
}

// withCORS allows any origin, method and header, and answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}
