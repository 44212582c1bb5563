package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

type envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Error: msg})
}

func writeFieldError(w http.ResponseWriter, status int, msg string, details map[string]string) {
	writeJSON(w, status, envelope{Error: msg, Details: details})
}

// writeServiceError maps domain errors onto stable HTTP responses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *tracker.ValidationError
	switch {
	case errors.As(err, &verr):
		writeFieldError(w, http.StatusUnprocessableEntity, "validation failed", verr.Fields)
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, "tracker not found")
	case errors.Is(err, tracker.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, "batch not found")
	case errors.Is(err, tracker.ErrTerminal):
		writeError(w, http.StatusConflict, "tracker is already finished")
	case errors.Is(err, tracker.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		s.requestLogger(r).Warn("store unavailable", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
	default:
		s.requestLogger(r).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
