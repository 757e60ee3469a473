package upload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Response is the body of a successful upload.
type Response struct {
	Success  bool   `json:"success"`
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

// Base64Request is the body accepted by the base64 endpoint.
type Base64Request struct {
	FileData  string `json:"file_data"`
	FileName  string `json:"file_name"`
	FileType  string `json:"file_type"`
	SessionID string `json:"session_id,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// NewMultipartHandler stores the "file" field of a multipart form.
func NewMultipartHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if store == nil {
			http.Error(w, "upload store not initialized", http.StatusServiceUnavailable)
			return
		}
		if store.maxBytes > 0 {
			// room for the multipart envelope
			req.Body = http.MaxBytesReader(w, req.Body, store.maxBytes+1<<20)
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			writeError(w, errors.Wrap(err, "read form file"))
			return
		}
		defer func() { _ = file.Close() }()

		path, size, err := store.Save(header.Filename, file)
		if err != nil {
			writeError(w, err)
			return
		}
		log.Info().Str("component", "upload").Str("file", path).Int64("size", size).Msg("file uploaded")
		writeJSON(w, Response{Success: true, FilePath: path, FileName: header.Filename, FileSize: size})
	}
}

// NewBase64Handler stores a base64 encoded file posted as JSON.
func NewBase64Handler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if store == nil {
			http.Error(w, "upload store not initialized", http.StatusServiceUnavailable)
			return
		}
		if store.maxBytes > 0 {
			// base64 inflates by 4/3
			req.Body = http.MaxBytesReader(w, req.Body, store.maxBytes*4/3+1<<20)
		}
		var in Base64Request
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			writeError(w, errors.Wrap(err, "decode request"))
			return
		}
		data, err := base64.StdEncoding.DecodeString(in.FileData)
		if err != nil {
			writeError(w, errors.Wrap(err, "decode file data"))
			return
		}
		path, size, err := store.Save(in.FileName, bytes.NewReader(data))
		if err != nil {
			writeError(w, err)
			return
		}
		log.Info().Str("component", "upload").
			Str("session_id", in.SessionID).
			Str("file", path).
			Str("file_type", in.FileType).
			Int64("size", size).
			Msg("file uploaded")
		writeJSON(w, Response{Success: true, FilePath: path, FileName: in.FileName, FileSize: size})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	log.Warn().Str("component", "upload").Err(err).Msg("upload failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(errorResponse{Detail: err.Error()})
}
