package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meshbridge/internal/auth"
	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates from the query string inside the handler
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/entities", func(r chi.Router) {
				r.With(s.require(auth.PermEntityRead)).Get("/", s.handleListEntities)

				r.Route("/{address}", func(r chi.Router) {
					r.With(s.require(auth.PermEntityRead)).Get("/", s.handleGetEntity)
					r.With(s.require(auth.PermEntityOperate)).Post("/turn_on", s.handleTurnOn)
					r.With(s.require(auth.PermEntityOperate)).Post("/turn_off", s.handleTurnOff)
					r.With(s.require(auth.PermEntityPing)).Post("/ping/{kind}", s.handlePing)
				})
			})

			r.Route("/scenes", func(r chi.Router) {
				r.With(s.require(auth.PermSceneRead)).Get("/", s.handleListScenes)
				r.With(s.require(auth.PermSceneExecute)).Post("/{id}/activate", s.handleActivateScene)
			})

			if s.audit != nil {
				r.With(s.require(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
			}
		})
	})

	return r
}

// handleHealth reports the bridge status. It answers 503 while the bridge
// is stopping so load balancers drain it.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": s.version,
		})
		return
	}

	status, reason := s.health.Determine()
	code := http.StatusOK
	if status == mesh.HealthStopping {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, s.health.Message(status, reason))
}
