// Package gateway exposes the simulation over HTTP and websockets:
// JSON endpoints for zone, layer and entity operations plus a
// broadcast stream of world events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/thornvale/server/internal/config"
	"github.com/thornvale/server/internal/core/event"
	"github.com/thornvale/server/internal/entity"
	"github.com/thornvale/server/internal/store"
	"github.com/thornvale/server/internal/world"
)

var errBadRequest = errors.New("bad request")

// Server is the HTTP front of the simulation.
type Server struct {
	log      *zap.Logger
	cfg      config.GatewayConfig
	world    *world.Manager
	entities *entity.Registry
	spawner  *entity.Spawner
	hub      *Hub
	httpSrv  *http.Server
	started  time.Time
}

// NewServer wires the gateway to the running simulation. The bus feeds
// the websocket stream; pass nil to serve HTTP only.
func NewServer(cfg config.GatewayConfig, wm *world.Manager, reg *entity.Registry, sp *entity.Spawner, bus *event.Bus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		log:      log.Named("gateway"),
		cfg:      cfg,
		world:    wm,
		entities: reg,
		spawner:  sp,
		hub:      NewHub(log),
		started:  time.Now(),
	}
	if bus != nil {
		s.hub.BindBus(bus)
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.BindAddress,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Hub returns the websocket hub, mainly for stats.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)

	mux.HandleFunc("GET /zones", s.handleListZones)
	mux.HandleFunc("POST /zones", s.handleCreateZone)
	mux.HandleFunc("GET /zones/{zone}", s.handleZoneDetail)
	mux.HandleFunc("DELETE /zones/{zone}", s.handleDestroyZone)
	mux.HandleFunc("GET /zones/{zone}/position", s.handlePosition)
	mux.HandleFunc("GET /zones/{zone}/region", s.handleZoneRegion)

	mux.HandleFunc("GET /zones/{zone}/layers/{layer}", s.handleLayerSnapshot)
	mux.HandleFunc("GET /zones/{zone}/layers/{layer}/map", s.handleLayerMap)
	mux.HandleFunc("GET /zones/{zone}/layers/{layer}/region", s.handleLayerRegion)
	mux.HandleFunc("POST /zones/{zone}/layers/{layer}/tiles", s.handleSetTile)
	mux.HandleFunc("GET /zones/{zone}/layers/{layer}/entities", s.handleLayerEntities)
	mux.HandleFunc("POST /zones/{zone}/layers/{layer}/entities", s.handleAddLayerEntity)
	mux.HandleFunc("DELETE /zones/{zone}/layers/{layer}/entities/{id}", s.handleRemoveLayerEntity)
	mux.HandleFunc("POST /zones/{zone}/layers/{layer}/entities/{id}/move", s.handleMoveLayerEntity)
	mux.HandleFunc("GET /zones/{zone}/layers/{layer}/connections", s.handleLayerConnections)
	mux.HandleFunc("POST /zones/{zone}/layers/{layer}/connections", s.handleAddConnection)
	mux.HandleFunc("DELETE /zones/{zone}/layers/{layer}/connections", s.handleRemoveConnection)

	mux.HandleFunc("GET /entities", s.handleQueryEntities)
	mux.HandleFunc("POST /entities", s.handleSpawnEntity)
	mux.HandleFunc("GET /entities/{id}", s.handleEntityInfo)
	mux.HandleFunc("DELETE /entities/{id}", s.handleDespawnEntity)
	mux.HandleFunc("GET /entities/{id}/components", s.handleEntityComponents)

	return mux
}

// Start begins serving in the background. The listen happens here so a
// bad address fails fast instead of inside the goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.BindAddress)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", s.cfg.BindAddress, err)
	}
	s.log.Info("gateway listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("gateway serve failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown closes the websocket hub and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpSrv.Shutdown(ctx)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response encode failed", zap.Error(err))
	}
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, world.ErrZoneNotFound),
		errors.Is(err, world.ErrLayerNotFound),
		errors.Is(err, world.ErrEntityNotFound),
		errors.Is(err, world.ErrConnectionNotFound),
		errors.Is(err, entity.ErrNotFound),
		errors.Is(err, entity.ErrComponentNotFound),
		errors.Is(err, store.ErrZoneUnknown),
		errors.Is(err, store.ErrLayerUnknown):
		status = http.StatusNotFound
	case errors.Is(err, world.ErrAlreadyExists),
		errors.Is(err, world.ErrConnectionConflict),
		errors.Is(err, entity.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, world.ErrOutOfBounds),
		errors.Is(err, world.ErrMapDataInvalid),
		errors.Is(err, entity.ErrInvalidInput),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

// decodeJSON reads a bounded request body into v.
func decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// intQuery parses a required integer query parameter.
func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: missing query parameter %q", errBadRequest, name)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: query parameter %q must be an integer", errBadRequest, name)
	}
	return n, nil
}

// layerParam validates the {layer} path segment.
func layerParam(r *http.Request) (world.LayerName, error) {
	name := world.LayerName(r.PathValue("layer"))
	if !name.Valid() {
		return "", fmt.Errorf("%w: unknown layer %q", world.ErrLayerNotFound, name)
	}
	return name, nil
}
