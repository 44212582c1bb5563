package api

import (
	"net/http"
	"strings"
	"time"
)

// writeVersioned writes data with an ETag derived from the record's id and
// last write. A matching If-None-Match yields 304 so pollers skip unchanged
// snapshots; elapsed_time is not part of the tag.
func (s *Server) writeVersioned(w http.ResponseWriter, r *http.Request, id string, updatedAt time.Time, data any) {
	tag := `"` + s.versions.Version(id, updatedAt.UTC().Format(time.RFC3339Nano)) + `"`
	w.Header().Set("ETag", tag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeData(w, http.StatusOK, data)
}

func etagMatches(header, tag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == tag {
			return true
		}
	}
	return false
}
