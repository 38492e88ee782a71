package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meshbridge/internal/audit"
)

// sceneView is one scene as the API returns it.
type sceneView struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	Available  bool       `json:"available"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// handleListScenes returns advertised scenes followed by remembered ones.
func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	live := s.session.Directory().Scenes()
	views := make([]sceneView, 0, len(live))
	seen := make(map[int]struct{}, len(live))
	for _, sc := range live {
		seen[sc.ID] = struct{}{}
		views = append(views, sceneView{ID: sc.ID, Name: sc.Name, Available: true})
	}

	if s.registry != nil {
		stored, err := s.registry.Scenes(r.Context())
		if err != nil {
			s.logger.Warn("listing stored scenes failed", "error", err)
		}
		for _, sc := range stored {
			if _, ok := seen[sc.ID]; ok {
				continue
			}
			lastSeen := sc.LastSeenAt
			views = append(views, sceneView{ID: sc.ID, Name: sc.Name, LastSeenAt: &lastSeen})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"scenes": views, "count": len(views)})
}

// handleActivateScene triggers a scene by ID.
func (s *Server) handleActivateScene(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		writeBadRequest(w, fmt.Sprintf("invalid scene id %q", raw))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err = s.session.ActivateScene(ctx, id)
	s.recordCommand(r, audit.ActionScene, "scene/"+strconv.Itoa(id), nil, err)
	if err != nil {
		s.logger.Warn("scene activation failed", "scene_id", id, "error", err)
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "activated", "scene_id": id})
}
