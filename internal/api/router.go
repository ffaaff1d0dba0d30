package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/nuki-gateway/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.accessMiddleware)
	r.Use(s.corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermStateRead))
				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/{hex}", s.handleGetDevice)
				r.Get("/states", s.handleListStates)
				r.Get("/states/*", s.handleGetState)
				r.Get("/events", s.handleListEvents)
				r.Get("/ws", s.handleWebSocket)
			})

			r.With(requirePermission(auth.PermDeviceOperate)).
				Post("/devices/{hex}/action", s.handleDeviceAction)
			r.With(requirePermission(auth.PermStateWrite)).
				Put("/states/*", s.handleSetState)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
