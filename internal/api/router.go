package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sunneed/sunneed/internal/worker"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/workers", s.handleWorkers)

		r.Route("/position", func(r chi.Router) {
			r.Get("/", s.handlePosition)
			r.Get("/stream", s.handlePositionStream)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{id}", s.handleGetDevice)
		})
	})

	return r
}

// handleHealth returns the daemon health.
//
// The status is "degraded" when any worker has failed or any infrastructure
// component fails its check, and "ok" otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	workers := s.workerStats()
	for _, ws := range workers {
		if ws.Status == worker.StatusFailed {
			status = "degraded"
		}
	}

	components, healthy := s.componentHealth(r.Context())
	if !healthy {
		status = "degraded"
	}

	snap := s.state.Current()
	resp := map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"pip_available":  snap.Available,
		"generation":     s.state.Generation(),
		"workers":        workers,
		"components":     components,
	}
	if s.listener != nil {
		resp["listener"] = map[string]uint64{
			"served": s.listener.Served(),
			"failed": s.listener.Failed(),
		}
	}
	if s.announcer != nil {
		resp["announcer"] = map[string]uint64{
			"published": s.announcer.Published(),
			"dropped":   s.announcer.Dropped(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWorkers returns dispatcher stats.
func (s *Server) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	workers := s.workerStats()
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers, "count": len(workers)})
}
