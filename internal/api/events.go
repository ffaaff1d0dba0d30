package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/nuki-gateway/internal/events"
)

// handleListEvents returns a page of the event log.
// Query: type, device, limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event log not available")
		return
	}

	q := r.URL.Query()
	filter := events.Filter{
		Type:      events.Type(q.Get("type")),
		DeviceHex: q.Get("device"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing events", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "listing events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
