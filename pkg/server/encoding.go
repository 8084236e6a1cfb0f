package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"
)

// decodeRequest unmarshals the request body into v, honoring the declared
// Content-Type (JSON by default, msgpack when asked). On failure it writes a
// 400 and returns false.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "reading request body: "+err.Error())
		return false
	}
	if len(body) == 0 {
		s.writeError(w, r, http.StatusBadRequest, "empty request body")
		return false
	}

	if strings.Contains(r.Header.Get("Content-Type"), "msgpack") {
		err = msgpack.Unmarshal(body, v)
	} else {
		err = json.Unmarshal(body, v)
	}
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "decoding request: "+err.Error())
		return false
	}
	return true
}

// writeResponse marshals v as msgpack when the client accepts it, JSON
// otherwise.
func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, status int, v any) {
	if strings.Contains(r.Header.Get("Accept"), "msgpack") {
		data, err := msgpack.Marshal(v)
		if err == nil {
			w.Header().Set("Content-Type", contentTypeMsgpack)
			w.WriteHeader(status)
			w.Write(data)
			return
		}
		// Fall through to JSON on a marshal failure.
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError emits a transport-level error status with a short message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if status >= http.StatusInternalServerError {
		s.errorCount.Add(1)
	}
	s.writeResponse(w, r, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}
