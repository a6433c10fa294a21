package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Stream event names
const (
	sseProgress = "progress"
	sseResult   = "result"
	sseError    = "error"
)

// wantsStream reports whether the client asked for Server-Sent Events
func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// sseWriter writes Server-Sent Event frames. Progress callbacks may run on
// another goroutine than the handler, so writes are serialized.
type sseWriter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

// newSSEWriter sends the stream headers and clears the write deadline
func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.Flush()
	return &sseWriter{w: w, rc: rc}
}

// send writes one event with a JSON payload
func (s *sseWriter) send(event, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

// ping writes a comment frame that keeps idle connections open
func (s *sseWriter) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

// fail ends a stream with an error frame carrying the status it maps to
func (s *sseWriter) fail(err error) {
	status, resp := errorResponse(err)
	_ = s.send(sseError, "", struct {
		Status int `json:"status"`
		ErrorResponse
	}{status, resp})
}
