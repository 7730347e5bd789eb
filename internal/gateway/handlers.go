package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/thornvale/server/internal/entity"
	"github.com/thornvale/server/internal/world"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

type statsResponse struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	WSClients     int              `json:"ws_clients"`
	World         world.WorldStats `json:"world"`
	Entities      entity.Stats     `json:"entities"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ws, err := s.world.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	es, err := s.entities.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		WSClients:     s.hub.ClientCount(),
		World:         ws,
		Entities:      es,
	})
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.world.Zones(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"zones": zones})
}

type createZoneRequest struct {
	Zone string `json:"zone"`
}

type createZoneResponse struct {
	Zone    string            `json:"zone"`
	Layers  []world.LayerName `json:"layers"`
	Warning string            `json:"warning,omitempty"`
}

func (s *Server) handleCreateZone(w http.ResponseWriter, r *http.Request) {
	var req createZoneRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	started, err := s.world.CreateZone(r.Context(), req.Zone)
	if err != nil && len(started) == 0 {
		s.writeError(w, err)
		return
	}
	resp := createZoneResponse{Zone: req.Zone, Layers: started}
	if err != nil {
		// Some layers came up; report the rest instead of failing the call.
		resp.Warning = err.Error()
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleZoneDetail(w http.ResponseWriter, r *http.Request) {
	zone := r.PathValue("zone")
	recs, err := s.world.ZoneLayers(r.Context(), zone)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"zone": zone, "layers": recs})
}

func (s *Server) handleDestroyZone(w http.ResponseWriter, r *http.Request) {
	if err := s.world.DestroyZone(r.Context(), r.PathValue("zone")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	x, err := intQuery(r, "x")
	if err != nil {
		s.writeError(w, err)
		return
	}
	y, err := intQuery(r, "y")
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.world.Position(r.Context(), r.PathValue("zone"), x, y)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleZoneRegion(w http.ResponseWriter, r *http.Request) {
	var x, y, width, height int
	for _, p := range []struct {
		name string
		dst  *int
	}{{"x", &x}, {"y", &y}, {"width", &width}, {"height", &height}} {
		v, err := intQuery(r, p.name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		*p.dst = v
	}
	zone := r.PathValue("zone")
	view, err := s.world.Region(r.Context(), zone, x, y, width, height)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"zone": zone, "layers": view})
}

// layerHandle resolves the {zone}/{layer} pair to a live handle.
func (s *Server) layerHandle(r *http.Request) (world.LayerHandle, error) {
	name, err := layerParam(r)
	if err != nil {
		return world.LayerHandle{}, err
	}
	return s.world.Layer(r.Context(), name, r.PathValue("zone"))
}

func (s *Server) handleLayerSnapshot(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := h.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLayerMap(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows, err := h.Map(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"zone":  r.PathValue("zone"),
		"layer": r.PathValue("layer"),
		"map":   rows,
	})
}

func (s *Server) handleLayerRegion(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var x, y, width, height int
	for _, p := range []struct {
		name string
		dst  *int
	}{{"x", &x}, {"y", &y}, {"width", &width}, {"height", &height}} {
		v, err := intQuery(r, p.name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		*p.dst = v
	}
	rows, err := h.Region(r.Context(), x, y, width, height)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"region": rows})
}

type setTileRequest struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Glyph string `json:"glyph"`
}

func (s *Server) handleSetTile(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req setTileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.Glyph) != 1 {
		s.writeError(w, fmt.Errorf("%w: glyph must be a single character", errBadRequest))
		return
	}
	if err := h.SetAt(r.Context(), req.X, req.Y, req.Glyph[0]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLayerEntities(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	if q.Has("x") || q.Has("y") {
		x, err := intQuery(r, "x")
		if err != nil {
			s.writeError(w, err)
			return
		}
		y, err := intQuery(r, "y")
		if err != nil {
			s.writeError(w, err)
			return
		}
		ents, err := h.EntitiesAt(r.Context(), x, y)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if ents == nil {
			ents = []world.LayerEntity{}
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"entities": ents})
		return
	}
	snap, err := h.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if snap.Entities == nil {
		snap.Entities = []world.LayerEntity{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entities": snap.Entities})
}

type layerEntityRequest struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	X          int            `json:"x"`
	Y          int            `json:"y"`
	Properties map[string]any `json:"properties,omitempty"`
	// Active defaults to true when omitted.
	Active *bool `json:"active,omitempty"`
}

func (s *Server) handleAddLayerEntity(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req layerEntityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	ent := world.LayerEntity{
		ID:         req.ID,
		Type:       req.Type,
		X:          req.X,
		Y:          req.Y,
		Properties: req.Properties,
		Active:     true,
	}
	if req.Active != nil {
		ent.Active = *req.Active
	}
	if err := h.AddEntity(r.Context(), ent); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ent)
}

func (s *Server) handleRemoveLayerEntity(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := h.RemoveEntity(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveEntityRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (s *Server) handleMoveLayerEntity(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req moveEntityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := h.MoveEntity(r.Context(), r.PathValue("id"), req.X, req.Y); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLayerConnections(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	conns, err := h.Connections(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if conns == nil {
		conns = []world.Connection{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

func (s *Server) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var conn world.Connection
	if err := decodeJSON(r, &conn); err != nil {
		s.writeError(w, err)
		return
	}
	if err := h.AddConnection(r.Context(), conn); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	h, err := s.layerHandle(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	x, err := intQuery(r, "x")
	if err != nil {
		s.writeError(w, err)
		return
	}
	y, err := intQuery(r, "y")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := h.RemoveConnection(r.Context(), x, y); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueryEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := 0
	for _, name := range []string{"type", "zone", "room", "component"} {
		if q.Has(name) {
			filters++
		}
	}
	if filters != 1 {
		s.writeError(w, fmt.Errorf("%w: exactly one of type, zone, room or component is required", errBadRequest))
		return
	}
	var (
		recs []entity.Record
		err  error
	)
	switch {
	case q.Has("type"):
		recs, err = s.entities.ByType(r.Context(), entity.Type(q.Get("type")))
	case q.Has("zone"):
		recs, err = s.entities.ByZone(r.Context(), q.Get("zone"))
	case q.Has("room"):
		recs, err = s.entities.ByRoom(r.Context(), q.Get("room"))
	default:
		recs, err = s.entities.ByComponent(r.Context(), entity.Kind(q.Get("component")))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []entity.Record{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": len(recs), "entities": recs})
}

type spawnRequest struct {
	ID         string                           `json:"id"`
	Type       entity.Type                      `json:"type"`
	Zone       string                           `json:"zone"`
	Room       string                           `json:"room"`
	X          *int                             `json:"x,omitempty"`
	Y          *int                             `json:"y,omitempty"`
	Components map[entity.Kind]entity.Component `json:"components,omitempty"`
}

func (s *Server) handleSpawnEntity(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	pos := entity.Position{Zone: req.Zone, Room: req.Room}
	if req.X != nil && req.Y != nil {
		pos.Coords = &entity.Coords{X: *req.X, Y: *req.Y}
	}
	h, err := s.spawner.Spawn(r.Context(), entity.Config{
		ID:         req.ID,
		Type:       req.Type,
		Position:   pos,
		Components: req.Components,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := h.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleEntityInfo(w http.ResponseWriter, r *http.Request) {
	rec, err := s.entities.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	alive := rec.Handle != nil && rec.Handle.Alive()
	s.writeJSON(w, http.StatusOK, map[string]any{"record": rec, "alive": alive})
}

func (s *Server) handleDespawnEntity(w http.ResponseWriter, r *http.Request) {
	if err := s.spawner.Despawn(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEntityComponents(w http.ResponseWriter, r *http.Request) {
	ref, err := s.entities.Handle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := entity.NewHandle(ref).Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": snap.ID, "components": snap.Components})
}
