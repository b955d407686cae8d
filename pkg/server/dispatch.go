package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/zen-systems/taskgate/pkg/dispatch"
)

func (s *Server) registerDispatchRoutes(mux *http.ServeMux) {
	// --- Dispatch ---
	mux.HandleFunc("/dispatch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}

		req, ok := s.decodeRequest(w, r)
		if !ok {
			return
		}

		res := s.dispatcher.Dispatch(r.Context(), req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	})

	// --- Streaming Dispatch ---
	mux.HandleFunc("/dispatch/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST only")
			return
		}

		req, ok := s.decodeRequest(w, r)
		if !ok {
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		events, err := s.dispatcher.DispatchStream(r.Context(), req)
		if err != nil {
			if errors.Is(err, dispatch.ErrUnknownTaskType) {
				writeError(w, http.StatusBadRequest, "%v", err)
			} else {
				writeError(w, http.StatusServiceUnavailable, "%v", err)
			}
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no") // nginx proxy support

		// One JSON object per line, flushed as produced. The dispatcher
		// closes the channel after the terminal event; a client disconnect
		// cancels r.Context() and stops the stream upstream.
		enc := json.NewEncoder(w)
		for event := range events {
			if err := enc.Encode(event); err != nil {
				return
			}
			flusher.Flush()
		}
	})
}

// decodeRequest parses and validates the task request body, assigning a
// task id when the caller omitted one.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (dispatch.TaskRequest, bool) {
	var req dispatch.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return req, false
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return req, false
	}
	return req, true
}
