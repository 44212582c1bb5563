package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/progress-tracker/internal/metrics"
	"github.com/JakeFAU/progress-tracker/internal/tracker"
)

type updateRequest struct {
	CurrentStep     *int           `json:"current_step"`
	Status          *string        `json:"status"`
	StepDescription *string        `json:"step_description"`
	LogMessage      *string        `json:"log_message"`
	ErrorMessage    *string        `json:"error_message"`
	WarningMessage  *string        `json:"warning_message"`
	Metadata        map[string]any `json:"metadata"`
}

func (u updateRequest) toUpdate() tracker.Update {
	out := tracker.Update{
		CurrentStep:     u.CurrentStep,
		StepDescription: u.StepDescription,
		LogMessage:      u.LogMessage,
		ErrorMessage:    u.ErrorMessage,
		WarningMessage:  u.WarningMessage,
		Metadata:        u.Metadata,
	}
	if u.Status != nil {
		st := tracker.Status(strings.ToLower(strings.TrimSpace(*u.Status)))
		out.Status = &st
	}
	return out
}

func (s *Server) createTracker(w http.ResponseWriter, r *http.Request) {
	var req tracker.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := s.svc.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, t)
}

func (s *Server) getTracker(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeVersioned(w, r, t.ID, t.UpdatedAt, t)
}

func (s *Server) updateTracker(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := s.svc.Update(r.Context(), chi.URLParam(r, "id"), req.toUpdate())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, t)
}

func (s *Server) deleteTracker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// listTrackers handles GET /v1/progress?category=&user_id=&status=&limit=.
func (s *Server) listTrackers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := tracker.Filter{
		Category: strings.TrimSpace(q.Get("category")),
		UserID:   strings.TrimSpace(q.Get("user_id")),
		Status:   tracker.Status(strings.ToLower(strings.TrimSpace(q.Get("status")))),
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeFieldError(w, http.StatusBadRequest, "invalid query", map[string]string{"limit": "must be a positive integer"})
			return
		}
		filter.Limit = limit
	}
	trackers, err := s.svc.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"trackers": trackers,
		"count":    len(trackers),
	})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Statistics(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Cleanup(r.Context())
	metrics.ObserveCleanup(res.Deleted, err)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var req tracker.BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.CreateBatch(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, b)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeVersioned(w, r, b.ID, b.UpdatedAt, b)
}

func (s *Server) recomputeBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.RecomputeBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, b)
}

// decodeBody reads a bounded JSON body into dst, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid JSON")
		}
		return false
	}
	return true
}
