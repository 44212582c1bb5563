package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/metrics"
	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

// streamProgress handles GET /v1/progress/stream?tracker_id=. Unknown ids get
// a plain 404 before any event is written; afterwards outcomes are reported
// as events on the open stream.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("tracker_id"))
	if id == "" {
		writeFieldError(w, http.StatusBadRequest, "invalid query", map[string]string{"tracker_id": "is required"})
		return
	}
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok || s.streams == nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.StreamOpened()
	defer metrics.StreamClosed()

	sink := &sseWriter{w: w, flusher: flusher}
	err := s.streams.Run(r.Context(), id, sink)
	switch {
	case err == nil:
		_ = sink.event("end", map[string]string{"tracker_id": id, "reason": "terminal"})
	case errors.Is(err, tracker.ErrNotFound):
		_ = sink.event("error", map[string]string{"tracker_id": id, "error": "tracker not found"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.requestLogger(r).Debug("stream client disconnected", zap.String("tracker_id", id))
	default:
		s.requestLogger(r).Warn("stream aborted", zap.String("tracker_id", id), zap.Error(err))
		_ = sink.event("error", map[string]string{"tracker_id": id, "error": "stream failed"})
	}
}

// sseWriter frames stream output as Server-Sent Events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

func (s *sseWriter) Send(t tracker.Tracker) error {
	return s.event("progress", t)
}

func (s *sseWriter) Heartbeat() error {
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", name, err)
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, name, data); err != nil {
		return fmt.Errorf("write %s event: %w", name, err)
	}
	s.flusher.Flush()
	metrics.ObserveStreamEvent(name)
	return nil
}
