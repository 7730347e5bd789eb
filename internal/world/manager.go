package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thornvale/server/internal/core/actor"
	"github.com/thornvale/server/internal/core/event"
	"github.com/thornvale/server/internal/core/tick"
	"github.com/thornvale/server/internal/scripting"
	"github.com/thornvale/server/internal/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ManagerConfig wires the world manager's collaborators.
type ManagerConfig struct {
	// Source provides layer documents. When it also implements
	// store.Saver the manager saves on autosave, destroy and stop.
	Source store.Source
	// NewEngine builds one scripting engine per layer actor. Nil
	// disables lua hooks.
	NewEngine func() (*scripting.Engine, error)
	// TickInterval is the global heartbeat period; zero disables the
	// global clock.
	TickInterval time.Duration
	// AutosaveInterval is the period between save sweeps; zero
	// disables autosave.
	AutosaveInterval time.Duration
	// LayerIntervals overrides per-layer local clock periods by layer
	// name. An explicit zero pins the layer to the global clock only;
	// absent layers keep their defaults.
	LayerIntervals map[string]time.Duration
	MaxRestarts    int
	RestartWindow  time.Duration
	// Bus, when set, receives WorldTick, ZoneCreated, ZoneDestroyed
	// and AutosaveCompleted events.
	Bus    *event.Bus
	Logger *zap.Logger
}

// Manager runs the spatial half of the simulation: a supervisor of
// layer actors, the layer registry, the global tick clock and the
// autosave sweep.
type Manager struct {
	log      *zap.Logger
	cfg      ManagerConfig
	registry *Registry
	sup      *actor.Supervisor
	clock    *tick.Clock
	saver    store.Saver // nil when the source is read-only

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager builds the manager and its registry actor. Nothing ticks
// until Start.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.Source == nil {
		return nil, errors.New("world manager needs a layer source")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("world")

	registry, err := StartRegistry(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("start layer registry: %w", err)
	}
	m := &Manager{
		log:      log,
		cfg:      cfg,
		registry: registry,
		sup:      actor.NewSupervisor(ctx, "world_layers", log, cfg.MaxRestarts, cfg.RestartWindow),
		stop:     make(chan struct{}),
	}
	m.saver, _ = cfg.Source.(store.Saver)
	if cfg.TickInterval > 0 {
		m.clock = tick.NewClock("world_manager", cfg.TickInterval, m.onTick)
	}
	return m, nil
}

// Registry exposes the layer registry for read-side consumers.
func (m *Manager) Registry() *Registry { return m.registry }

// CurrentTick returns the number of the latest global tick, 0 when the
// global clock is off.
func (m *Manager) CurrentTick() uint64 {
	if m.clock == nil {
		return 0
	}
	return m.clock.Current()
}

// Start launches the global clock and, when the source can save, the
// autosave sweep.
func (m *Manager) Start() {
	if m.clock != nil {
		m.clock.Start()
	}
	if m.cfg.AutosaveInterval > 0 && m.saver != nil {
		m.wg.Add(1)
		go m.autosaveLoop()
	}
	m.log.Info("world manager started",
		zap.Duration("tick_interval", m.cfg.TickInterval),
		zap.Duration("autosave", m.cfg.AutosaveInterval))
}

// Stop halts the clocks, runs a final save sweep and shuts down every
// layer actor and the registry.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.clock != nil {
		m.clock.Stop()
	}
	m.wg.Wait()

	if m.saver != nil {
		if _, err := m.SaveAll(ctx); err != nil {
			m.log.Warn("final save incomplete", zap.Error(err))
		}
	}
	err := m.sup.Shutdown(ctx)
	return multierr.Append(err, m.registry.Stop(ctx))
}

func (m *Manager) onTick(t tick.Tick) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	delivered, err := m.registry.Broadcast(ctx, layerTickMsg{t: t})
	if err != nil {
		m.log.Warn("tick broadcast failed", zap.Uint64("tick", t.Number), zap.Error(err))
		return
	}
	if m.cfg.Bus != nil {
		event.Emit(m.cfg.Bus, event.WorldTick{Tick: t, Delivered: delivered})
	}
}

func (m *Manager) autosaveLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.AutosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			swept, err := m.SaveAll(ctx)
			cancel()
			failed := len(multierr.Errors(err))
			if err != nil {
				m.log.Warn("autosave incomplete",
					zap.Int("layers", swept), zap.Int("failed", failed), zap.Error(err))
			} else {
				m.log.Debug("autosave sweep done", zap.Int("layers", swept))
			}
			if m.cfg.Bus != nil {
				event.Emit(m.cfg.Bus, event.AutosaveCompleted{Layers: swept, Failed: failed})
			}
		}
	}
}

// CreateZone starts an actor for every layer document the zone has, in
// render order. Layers without a document are skipped; layers whose
// documents fail to load are reported without stopping the rest.
func (m *Manager) CreateZone(ctx context.Context, zone string) ([]LayerName, error) {
	if zone == "" {
		return nil, fmt.Errorf("%w: empty zone name", ErrZoneNotFound)
	}
	recs, err := m.registry.LayersForZone(ctx, zone)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return nil, fmt.Errorf("%w: zone %s", ErrAlreadyExists, zone)
	}

	var (
		started  []LayerName
		failures error
	)
	for _, name := range Layers() {
		cfg := LayerConfig{
			Name:      name,
			Zone:      zone,
			Source:    m.cfg.Source,
			Registry:  m.registry,
			Interval:  m.layerInterval(name),
			NewEngine: m.cfg.NewEngine,
			Logger:    m.log,
		}
		_, err := m.sup.StartChild(actor.ChildSpec{
			ID:      ActorID(name, zone),
			Policy:  actor.RestartAlways,
			Factory: func() actor.Behavior { return NewLayer(cfg) },
		})
		switch {
		case err == nil:
			started = append(started, name)
		case errors.Is(err, store.ErrLayerUnknown):
			// Zone exists but has no document for this layer.
		case errors.Is(err, store.ErrZoneUnknown) && len(started) == 0:
			return nil, fmt.Errorf("%w: %s", ErrZoneNotFound, zone)
		default:
			failures = multierr.Append(failures, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(started) == 0 && failures == nil {
		return nil, fmt.Errorf("%w: %s has no layer documents", ErrZoneNotFound, zone)
	}
	if len(started) > 0 && m.cfg.Bus != nil {
		names := make([]string, len(started))
		for i, n := range started {
			names[i] = string(n)
		}
		event.Emit(m.cfg.Bus, event.ZoneCreated{Zone: zone, Layers: names})
	}
	if failures != nil {
		return started, fmt.Errorf("zone %s partially created: %w", zone, failures)
	}
	m.log.Info("zone created", zap.String("zone", zone), zap.Int("layers", len(started)))
	return started, nil
}

// DestroyZone saves (when the source can) and stops every layer actor
// of the zone, parked ones included.
func (m *Manager) DestroyZone(ctx context.Context, zone string) error {
	recs, err := m.registry.LayersForZone(ctx, zone)
	if err != nil {
		return err
	}
	known := len(recs) > 0
	if !known {
		for _, name := range Layers() {
			if _, ok := m.sup.Child(ActorID(name, zone)); ok {
				known = true
				break
			}
		}
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, zone)
	}

	if m.saver != nil {
		for _, rec := range recs {
			if err := NewLayerHandle(rec.Handle).Save(ctx); err != nil {
				m.log.Warn("save before destroy failed",
					zap.String("zone", zone),
					zap.String("layer", string(rec.Layer)),
					zap.Error(err))
			}
		}
	}
	var stopErr error
	for _, name := range Layers() {
		err := m.sup.StopChild(ctx, ActorID(name, zone))
		if err != nil && !errors.Is(err, actor.ErrChildNotFound) {
			stopErr = multierr.Append(stopErr, fmt.Errorf("%s: %w", name, err))
		}
	}
	if stopErr != nil {
		return stopErr
	}
	if m.cfg.Bus != nil {
		event.Emit(m.cfg.Bus, event.ZoneDestroyed{Zone: zone})
	}
	m.log.Info("zone destroyed", zap.String("zone", zone))
	return nil
}

// Layer returns a typed handle on one live layer actor.
func (m *Manager) Layer(ctx context.Context, layer LayerName, zone string) (LayerHandle, error) {
	rec, err := m.registry.Lookup(ctx, layer, zone)
	if err != nil {
		return LayerHandle{}, err
	}
	return NewLayerHandle(rec.Handle), nil
}

// Zones lists the zones with live layers, sorted by name.
func (m *Manager) Zones(ctx context.Context) ([]string, error) {
	counts, err := m.registry.Counts(ctx)
	if err != nil {
		return nil, err
	}
	zones := make([]string, 0, len(counts.ByZone))
	for z := range counts.ByZone {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones, nil
}

// ZoneLayers lists one zone's registered layers in render order.
func (m *Manager) ZoneLayers(ctx context.Context, zone string) ([]LayerRecord, error) {
	recs, err := m.registry.LayersForZone(ctx, zone)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrZoneNotFound, zone)
	}
	return recs, nil
}

// LayerGlyph is one layer's contribution to a position view.
type LayerGlyph struct {
	Layer    LayerName     `json:"layer"`
	Glyph    string        `json:"glyph"`
	Entities []LayerEntity `json:"entities,omitempty"`
}

// PositionInfo stacks every layer's glyph and entities at one point, in
// render order. Layers that do not cover the point are skipped.
type PositionInfo struct {
	Zone   string       `json:"zone"`
	X      int          `json:"x"`
	Y      int          `json:"y"`
	Layers []LayerGlyph `json:"layers"`
}

// Position builds the stacked view of one point across a zone's layers.
func (m *Manager) Position(ctx context.Context, zone string, x, y int) (PositionInfo, error) {
	recs, err := m.ZoneLayers(ctx, zone)
	if err != nil {
		return PositionInfo{}, err
	}
	info := PositionInfo{Zone: zone, X: x, Y: y}
	for _, rec := range recs {
		h := NewLayerHandle(rec.Handle)
		ch, err := h.At(ctx, x, y)
		if errors.Is(err, ErrOutOfBounds) {
			continue
		}
		if err != nil {
			return PositionInfo{}, err
		}
		ents, err := h.EntitiesAt(ctx, x, y)
		if err != nil {
			return PositionInfo{}, err
		}
		info.Layers = append(info.Layers, LayerGlyph{
			Layer:    rec.Layer,
			Glyph:    string(ch),
			Entities: ents,
		})
	}
	return info, nil
}

// Region builds the stacked region view of a zone: each layer's w×h
// window with (x,y) as the top-left corner, keyed by layer name.
// Layers whose map does not contain the whole rectangle are skipped,
// matching the single-layer region contract.
func (m *Manager) Region(ctx context.Context, zone string, x, y, w, h int) (map[LayerName][]string, error) {
	recs, err := m.ZoneLayers(ctx, zone)
	if err != nil {
		return nil, err
	}
	view := make(map[LayerName][]string, len(recs))
	for _, rec := range recs {
		rows, err := NewLayerHandle(rec.Handle).Region(ctx, x, y, w, h)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			continue
		}
		view[rec.Layer] = rows
	}
	return view, nil
}

// SaveAll sweeps every live layer through a save; layers that have not
// changed since their last write are left alone. Returns how many
// layers were swept without error.
func (m *Manager) SaveAll(ctx context.Context) (int, error) {
	if m.saver == nil {
		return 0, nil
	}
	recs, err := m.registry.ActiveLayers(ctx)
	if err != nil {
		return 0, err
	}
	swept := 0
	var errs error
	for _, rec := range recs {
		if err := NewLayerHandle(rec.Handle).Save(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", rec.Zone, rec.Layer, err))
			continue
		}
		swept++
	}
	return swept, errs
}

// WorldStats is the manager's point-in-time view for dashboards.
type WorldStats struct {
	Tick     uint64            `json:"tick"`
	Zones    int               `json:"zones"`
	Layers   int               `json:"layers"`
	ByZone   map[string]int    `json:"by_zone"`
	ByLayer  map[LayerName]int `json:"by_layer"`
	Children []actor.ChildInfo `json:"children"`
}

// Stats snapshots registry counts and supervisor children.
func (m *Manager) Stats(ctx context.Context) (WorldStats, error) {
	counts, err := m.registry.Counts(ctx)
	if err != nil {
		return WorldStats{}, err
	}
	stats := WorldStats{
		Tick:     m.CurrentTick(),
		Zones:    len(counts.ByZone),
		Layers:   counts.Total,
		ByZone:   counts.ByZone,
		ByLayer:  counts.ByLayer,
		Children: m.sup.Children(),
	}
	sort.Slice(stats.Children, func(i, j int) bool {
		return stats.Children[i].ID < stats.Children[j].ID
	})
	return stats, nil
}

func (m *Manager) layerInterval(name LayerName) time.Duration {
	if d, ok := m.cfg.LayerIntervals[string(name)]; ok {
		return d
	}
	return name.DefaultTickInterval()
}
