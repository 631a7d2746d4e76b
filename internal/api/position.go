package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handlePosition returns the current PIP snapshot, or 503 with the
// resolution time when no device is active.
func (s *Server) handlePosition(w http.ResponseWriter, _ *http.Request) {
	snap := s.state.Current()
	if !snap.Available {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      http.StatusServiceUnavailable,
			"code":        ErrCodeUnavailable,
			"message":     "no active device",
			"resolved_at": snap.ResolvedAt,
		})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListDevices returns every registry state.
//
// Query parameters:
//   - status: only devices with this status (active, degraded, inactive, unknown)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	states := s.devices.States()

	if want := r.URL.Query().Get("status"); want != "" {
		filtered := states[:0]
		for _, st := range states {
			if string(st.Status) == want {
				filtered = append(filtered, st)
			}
		}
		states = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": states, "count": len(states)})
}

// handleGetDevice returns one device by id.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeBadRequest(w, "device id must be a positive integer")
		return
	}

	st, ok := s.devices.Lookup(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
