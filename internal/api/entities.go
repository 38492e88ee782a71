package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meshbridge/internal/audit"
	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
	"github.com/nerrad567/meshbridge/internal/entity"
)

// entityView is one entity as the API returns it. Available is false for
// entities the registry remembers but the gateway has not advertised since
// startup; those cannot take commands.
type entityView struct {
	mesh.EntityState
	Location   string     `json:"location,omitempty"`
	Members    []int      `json:"members,omitempty"`
	Available  bool       `json:"available"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// turnOnRequest is the optional body of POST .../turn_on.
type turnOnRequest struct {
	Brightness      *int `json:"brightness"`
	ColorTempKelvin *int `json:"color_temp_kelvin"`
}

// handleListEntities returns live entities followed by remembered ones.
// ?kind= filters by monochrome, multiwhite, group, or light (both light kinds).
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind != "" && !validKindFilter(kind) {
		writeBadRequest(w, fmt.Sprintf("unknown kind %q", kind))
		return
	}

	live := s.session.Entities()
	views := make([]entityView, 0, len(live))
	seen := make(map[string]struct{}, len(live))
	for _, es := range live {
		seen[es.Key] = struct{}{}
		if matchesKind(es.Kind, kind) {
			views = append(views, s.liveView(es))
		}
	}

	if s.registry != nil {
		for _, rec := range s.registry.List() {
			if _, ok := seen[rec.Key]; ok || !matchesKind(rec.Kind, kind) {
				continue
			}
			views = append(views, offlineView(rec))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"entities": views, "count": len(views)})
}

// handleGetEntity returns one entity by gateway address.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	address, ok := parseAddress(w, r)
	if !ok {
		return
	}

	es, err := s.session.Entity(address)
	if err == nil {
		writeJSON(w, http.StatusOK, s.liveView(es))
		return
	}
	if errors.Is(err, mesh.ErrUnknownEntity) {
		if rec, found := s.rememberedEntity(address); found {
			writeJSON(w, http.StatusOK, offlineView(rec))
			return
		}
	}
	writeBridgeError(w, err)
}

// handleTurnOn switches an entity on. The body is optional.
func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	address, ok := parseAddress(w, r)
	if !ok {
		return
	}

	var req turnOnRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	details := map[string]any{}
	if req.Brightness != nil {
		details["brightness"] = *req.Brightness
	}
	if req.ColorTempKelvin != nil {
		details["color_temp_kelvin"] = *req.ColorTempKelvin
	}

	s.runCommand(w, r, audit.ActionTurnOn, address, details, func(ctx context.Context) error {
		return s.session.TurnOn(ctx, address, mesh.TurnOnRequest{
			Brightness:      req.Brightness,
			ColorTempKelvin: req.ColorTempKelvin,
		})
	})
}

// handleTurnOff switches an entity off.
func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	address, ok := parseAddress(w, r)
	if !ok {
		return
	}

	s.runCommand(w, r, audit.ActionTurnOff, address, nil, func(ctx context.Context) error {
		return s.session.TurnOff(ctx, address)
	})
}

// handlePing sends a one-off status request. The answer arrives later over
// the WebSocket.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	address, ok := parseAddress(w, r)
	if !ok {
		return
	}
	kind, err := mesh.ParsePingKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err = s.session.Ping(ctx, address, kind)
	s.recordCommand(r, audit.ActionPing, s.entityTarget(address), map[string]any{"kind": string(kind)}, err)
	if err != nil {
		s.logger.Warn("ping failed", "address", address, "kind", kind, "error", err)
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "sent",
		"address": address,
		"kind":    kind,
	})
}

// runCommand executes a light command and answers with the entity's
// optimistic state.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, action string, address int, details map[string]any, command func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err := command(ctx)
	s.recordCommand(r, action, s.entityTarget(address), details, err)
	if err != nil {
		s.logger.Warn("command failed",
			"address", address,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID))
		writeBridgeError(w, err)
		return
	}

	es, err := s.session.Entity(address)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.liveView(es))
}

// liveView enriches a session entity with discovery details.
func (s *Server) liveView(es mesh.EntityState) entityView {
	v := entityView{EntityState: es, Available: true}

	dir := s.session.Directory()
	var (
		d     mesh.Descriptor
		found bool
	)
	if es.Kind == mesh.KindGroup.String() {
		d, found = dir.Group(es.Address)
	} else {
		d, found = dir.Light(es.Address)
	}
	if found {
		v.Location = d.Location
		v.Members = d.Members
	}
	return v
}

// rememberedEntity finds a registry record by address. Lights win over a
// group with the same address, matching the session's lookup.
func (s *Server) rememberedEntity(address int) (entity.Record, bool) {
	if s.registry == nil {
		return entity.Record{}, false
	}

	var group *entity.Record
	for _, rec := range s.registry.List() {
		if rec.Address != address {
			continue
		}
		if rec.Kind != mesh.KindGroup.String() {
			return rec, true
		}
		group = &rec
	}
	if group != nil {
		return *group, true
	}
	return entity.Record{}, false
}

// offlineView builds a view from a registry record.
func offlineView(rec entity.Record) entityView {
	class, _, _ := strings.Cut(rec.Key, "/")
	es := mesh.EntityState{
		Key:         rec.Key,
		Address:     rec.Address,
		Kind:        rec.Kind,
		Class:       class,
		Name:        rec.Name,
		DisplayName: rec.DisplayName,
	}
	if rec.State != nil {
		es.IsOn = rec.State.IsOn
		es.Brightness = rec.State.Brightness
		es.ColorTempKelvin = rec.State.ColorTempKelvin
		if status, err := mesh.ParseStatus(rec.State.Status); err == nil {
			es.Status = status
		}
	}

	lastSeen := rec.LastSeenAt
	return entityView{
		EntityState: es,
		Location:    rec.Location,
		Members:     rec.Members,
		Available:   false,
		LastSeenAt:  &lastSeen,
	}
}

func validKindFilter(kind string) bool {
	switch kind {
	case "light", mesh.KindMonochrome.String(), mesh.KindMultiwhite.String(), mesh.KindGroup.String():
		return true
	default:
		return false
	}
}

func matchesKind(kind, filter string) bool {
	switch filter {
	case "":
		return true
	case "light":
		return kind != mesh.KindGroup.String()
	default:
		return kind == filter
	}
}

// parseAddress reads the {address} URL parameter, writing a 400 on failure.
func parseAddress(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "address")
	address, err := strconv.Atoi(raw)
	if err != nil || address < 0 {
		writeBadRequest(w, fmt.Sprintf("invalid address %q", raw))
		return 0, false
	}
	return address, true
}

// decodeOptionalJSON decodes r's body into v. An empty body leaves v
// untouched; unknown fields are rejected.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
