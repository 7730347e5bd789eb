package world

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/thornvale/server/internal/core/actor"
	"github.com/thornvale/server/internal/core/tick"
	"github.com/thornvale/server/internal/scripting"
	"github.com/thornvale/server/internal/store"
	"go.uber.org/zap"
)

// LayerConfig describes one layer actor to start.
type LayerConfig struct {
	Name LayerName
	Zone string
	// Source loads the layer document during Init. A restarted actor
	// reloads from here: in-memory edits since the last save die with
	// the crash.
	Source store.Source
	// Registry receives the registration in Init and the unregister in
	// Terminate. Required.
	Registry *Registry
	// Interval is the layer's own clock period; zero disables the
	// local clock so the layer advances only on global ticks.
	Interval time.Duration
	// NewEngine, when set, builds the actor's private Lua engine. A
	// layer_tick_<name> hook replaces the built-in handler.
	NewEngine func() (*scripting.Engine, error)
	Logger    *zap.Logger
}

type (
	getMapMsg struct{}
	atPosMsg  struct{ x, y int }
	setAtMsg  struct {
		x, y int
		ch   byte
	}
	regionMsg struct {
		x, y, w, h int
	}
	entitiesAtMsg   struct{ x, y int }
	addEntityMsg    struct{ ent LayerEntity }
	removeEntityMsg struct{ id string }
	moveEntityMsg   struct {
		id   string
		x, y int
	}
	connectionsMsg struct{}
	addConnMsg     struct{ conn Connection }
	removeConnMsg  struct{ x, y int }
	metadataMsg    struct{}
	layerTickMsg   struct{ t tick.Tick }
	saveMsg        struct{}
	snapshotMsg    struct{}
)

// LayerSnapshot is one layer actor's full state at a point in time.
type LayerSnapshot struct {
	Layer       LayerName      `json:"layer"`
	Zone        string         `json:"zone"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	OriginX     int            `json:"origin_x"`
	OriginY     int            `json:"origin_y"`
	Map         []string       `json:"map"`
	Entities    []LayerEntity  `json:"entities"`
	Connections []Connection   `json:"connections"`
	Metadata    map[string]any `json:"metadata"`
	LastTick    tick.Tick      `json:"last_tick"`
	Dirty       bool           `json:"dirty"`
}

// Layer is the behavior of one (layer, zone) actor. All fields past
// cfg are owned by the actor goroutine.
type Layer struct {
	log  *zap.Logger
	cfg  LayerConfig
	self *actor.Ref

	grid     *Grid
	entities map[string]*LayerEntity
	conns    []Connection
	meta     map[string]any
	engine   *scripting.Engine
	localSeq uint64
	lastTick tick.Tick
	dirty    bool
}

// NewLayer builds a layer behavior; state is loaded in Init.
func NewLayer(cfg LayerConfig) *Layer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Layer{
		log: log.Named("layer").With(
			zap.String("zone", cfg.Zone),
			zap.String("layer", string(cfg.Name))),
		cfg: cfg,
	}
}

// ActorID is the supervisor child id for a (layer, zone) pair.
func ActorID(layer LayerName, zone string) string {
	return fmt.Sprintf("layer_%s_%s", layer, zone)
}

func (l *Layer) Init(ctx context.Context, self *actor.Ref) error {
	l.self = self
	doc, err := l.cfg.Source.LoadLayer(ctx, string(l.cfg.Name), l.cfg.Zone)
	if err != nil {
		return err
	}
	grid, err := NewGrid(doc.Width, doc.Height, doc.Map)
	if err != nil {
		return err
	}
	grid.OriginX, grid.OriginY = doc.OriginX, doc.OriginY
	l.grid = grid

	l.entities = make(map[string]*LayerEntity, len(doc.Entities))
	for i := range doc.Entities {
		e := entityFromDoc(&doc.Entities[i])
		if e.ID == "" {
			return fmt.Errorf("entity %d has no id", i)
		}
		if _, dup := l.entities[e.ID]; dup {
			return fmt.Errorf("%w: entity %s", ErrAlreadyExists, e.ID)
		}
		if !grid.Contains(e.X, e.Y) {
			return fmt.Errorf("%w: entity %s at (%d,%d)", ErrOutOfBounds, e.ID, e.X, e.Y)
		}
		l.entities[e.ID] = &e
	}

	l.conns = make([]Connection, 0, len(doc.Connections))
	for i := range doc.Connections {
		c := connFromDoc(l.cfg.Zone, l.cfg.Name, &doc.Connections[i])
		if err := l.checkConnection(c); err != nil {
			return err
		}
		l.conns = append(l.conns, c)
	}

	l.meta = doc.Metadata
	if l.meta == nil {
		l.meta = make(map[string]any)
	}

	if l.cfg.NewEngine != nil {
		eng, err := l.cfg.NewEngine()
		if err != nil {
			return fmt.Errorf("layer engine: %w", err)
		}
		l.engine = eng
	}

	rec := LayerRecord{
		Layer:  l.cfg.Name,
		Zone:   l.cfg.Zone,
		Handle: self,
		Metadata: map[string]any{
			"width":    l.grid.Width(),
			"height":   l.grid.Height(),
			"entities": len(l.entities),
		},
	}
	if err := l.cfg.Registry.Register(ctx, rec); err != nil {
		// Init failures skip Terminate; release the VM here.
		if l.engine != nil {
			l.engine.Close()
		}
		return fmt.Errorf("register layer: %w", err)
	}

	l.log.Info("layer loaded",
		zap.Int("width", l.grid.Width()),
		zap.Int("height", l.grid.Height()),
		zap.Int("entities", len(l.entities)),
		zap.Int("connections", len(l.conns)))
	return nil
}

func (l *Layer) TickInterval() time.Duration { return l.cfg.Interval }

func (l *Layer) Terminate(reason error) {
	if l.engine != nil {
		l.engine.Close()
	}
	if l.self == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.cfg.Registry.Unregister(ctx, l.cfg.Name, l.cfg.Zone); err != nil {
		l.log.Warn("layer unregister failed", zap.Error(err))
	}
	if reason != nil {
		l.log.Warn("layer stopped abnormally", zap.Error(reason))
	}
}

func (l *Layer) Receive(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case getMapMsg:
		return l.grid.Lines(), nil
	case atPosMsg:
		ch, ok := l.grid.At(m.x, m.y)
		if !ok {
			return nil, fmt.Errorf("%w: (%d,%d)", ErrOutOfBounds, m.x, m.y)
		}
		return ch, nil
	case setAtMsg:
		if !l.grid.Set(m.x, m.y, m.ch) {
			return nil, fmt.Errorf("%w: (%d,%d)", ErrOutOfBounds, m.x, m.y)
		}
		l.dirty = true
		return nil, nil
	case regionMsg:
		return l.grid.Region(m.x, m.y, m.w, m.h), nil
	case entitiesAtMsg:
		return l.entitiesAt(m.x, m.y), nil
	case addEntityMsg:
		return nil, l.addEntity(m.ent)
	case removeEntityMsg:
		return nil, l.removeEntity(m.id)
	case moveEntityMsg:
		return nil, l.moveEntity(m.id, m.x, m.y)
	case connectionsMsg:
		return l.connectionList(), nil
	case addConnMsg:
		return nil, l.addConnection(m.conn)
	case removeConnMsg:
		return nil, l.removeConnection(m.x, m.y)
	case metadataMsg:
		return copyProps(l.meta), nil
	case layerTickMsg:
		l.applyTick(ctx, m.t)
		return nil, nil
	case actor.TimerFired:
		l.localSeq++
		l.applyTick(ctx, tick.Tick{
			Number:    l.localSeq,
			Timestamp: m.At,
			Source:    fmt.Sprintf("layer:%s:%s", l.cfg.Name, l.cfg.Zone),
		})
		return nil, nil
	case saveMsg:
		return nil, l.save(ctx)
	case snapshotMsg:
		return l.snapshot(), nil
	default:
		return nil, fmt.Errorf("layer %s/%s: unknown message %T", l.cfg.Zone, l.cfg.Name, msg)
	}
}

func (l *Layer) entitiesAt(x, y int) []LayerEntity {
	var out []LayerEntity
	for _, e := range l.entities {
		if e.X == x && e.Y == y {
			out = append(out, copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Layer) addEntity(ent LayerEntity) error {
	if ent.ID == "" {
		return fmt.Errorf("layer entity needs an id")
	}
	if _, ok := l.entities[ent.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, ent.ID)
	}
	if !l.grid.Contains(ent.X, ent.Y) {
		return fmt.Errorf("%w: (%d,%d)", ErrOutOfBounds, ent.X, ent.Y)
	}
	cp := copyEntity(&ent)
	l.entities[ent.ID] = &cp
	l.dirty = true
	return nil
}

func (l *Layer) removeEntity(id string) error {
	if _, ok := l.entities[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	delete(l.entities, id)
	l.dirty = true
	return nil
}

func (l *Layer) moveEntity(id string, x, y int) error {
	e, ok := l.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	if !l.grid.Contains(x, y) {
		return fmt.Errorf("%w: (%d,%d)", ErrOutOfBounds, x, y)
	}
	e.X, e.Y = x, y
	l.dirty = true
	return nil
}

func (l *Layer) connectionList() []Connection {
	out := make([]Connection, 0, len(l.conns))
	for i := range l.conns {
		c := l.conns[i]
		c.Properties = copyProps(c.Properties)
		out = append(out, c)
	}
	return out
}

// checkConnection enforces point uniqueness within this source layer.
// Cross-layer target conflicts in hand-edited documents are caught by
// the database constraints when Postgres is the store.
func (l *Layer) checkConnection(c Connection) error {
	if !c.TargetLayer.Valid() {
		return fmt.Errorf("connection target layer %q invalid", c.TargetLayer)
	}
	if !l.grid.Contains(c.SourceX, c.SourceY) {
		return fmt.Errorf("%w: connection source (%d,%d)", ErrOutOfBounds, c.SourceX, c.SourceY)
	}
	for _, have := range l.conns {
		if have.SourceX == c.SourceX && have.SourceY == c.SourceY {
			return fmt.Errorf("%w: source (%d,%d) taken", ErrConnectionConflict, c.SourceX, c.SourceY)
		}
		if have.TargetLayer == c.TargetLayer && have.TargetX == c.TargetX && have.TargetY == c.TargetY {
			return fmt.Errorf("%w: target %s (%d,%d) taken", ErrConnectionConflict, c.TargetLayer, c.TargetX, c.TargetY)
		}
	}
	return nil
}

func (l *Layer) addConnection(c Connection) error {
	c.Zone = l.cfg.Zone
	c.SourceLayer = l.cfg.Name
	if err := l.checkConnection(c); err != nil {
		return err
	}
	c.Properties = copyProps(c.Properties)
	l.conns = append(l.conns, c)
	l.dirty = true
	return nil
}

func (l *Layer) removeConnection(x, y int) error {
	for i := range l.conns {
		if l.conns[i].SourceX == x && l.conns[i].SourceY == y {
			l.conns = append(l.conns[:i], l.conns[i+1:]...)
			l.dirty = true
			return nil
		}
	}
	return fmt.Errorf("%w: no connection at (%d,%d)", ErrConnectionNotFound, x, y)
}

// applyTick dispatches one tick to the lua hook when the scripts
// define one, else to the built-in handler for this layer name.
func (l *Layer) applyTick(ctx context.Context, t tick.Tick) {
	hook := "layer_tick_" + string(l.cfg.Name)
	if l.engine != nil && l.engine.HasHook(hook) {
		l.runHook(hook, t)
	} else {
		l.runBuiltin(ctx)
	}
	l.lastTick = t
}

func (l *Layer) runHook(hook string, t tick.Tick) {
	tc := scripting.TickContext{
		Zone:       l.cfg.Zone,
		Layer:      string(l.cfg.Name),
		TickNumber: t.Number,
		Source:     t.Source,
		Width:      l.grid.Width(),
		Height:     l.grid.Height(),
		Metadata:   copyProps(l.meta),
		Entities:   make([]scripting.TickEntity, 0, len(l.entities)),
	}
	for _, id := range l.sortedEntityIDs() {
		e := l.entities[id]
		tc.Entities = append(tc.Entities, scripting.TickEntity{
			ID:         e.ID,
			Type:       e.Type,
			X:          e.X,
			Y:          e.Y,
			Active:     e.Active,
			Properties: copyProps(e.Properties),
		})
	}

	cmds, err := l.engine.RunLayerTick(hook, tc)
	if err != nil {
		l.log.Error("lua tick hook failed", zap.String("hook", hook), zap.Error(err))
		return
	}
	for _, cmd := range cmds {
		l.applyCommand(cmd)
	}
}

func (l *Layer) applyCommand(cmd scripting.Command) {
	switch cmd.Op {
	case "set_tile":
		if cmd.Glyph != "" && l.grid.Set(cmd.X, cmd.Y, cmd.Glyph[0]) {
			l.dirty = true
		}
	case "set_property":
		if e, ok := l.entities[cmd.EntityID]; ok && cmd.Key != "" {
			if e.Properties == nil {
				e.Properties = make(map[string]any)
			}
			e.Properties[cmd.Key] = cmd.Value
			l.dirty = true
		}
	case "deactivate":
		if e, ok := l.entities[cmd.EntityID]; ok && e.Active {
			e.Active = false
			l.dirty = true
		}
	default:
		l.log.Warn("unknown lua command", zap.String("op", cmd.Op))
	}
}

// save writes the layer document back when anything changed since the
// last write. Sources without save support reject the op.
func (l *Layer) save(ctx context.Context) error {
	saver, ok := l.cfg.Source.(store.Saver)
	if !ok {
		return fmt.Errorf("layer %s/%s: source is read-only", l.cfg.Zone, l.cfg.Name)
	}
	if !l.dirty {
		return nil
	}
	if err := saver.SaveLayer(ctx, string(l.cfg.Name), l.cfg.Zone, l.docSnapshot()); err != nil {
		return fmt.Errorf("save layer: %w", err)
	}
	l.dirty = false
	l.log.Debug("layer saved", zap.Uint64("tick", l.lastTick.Number))
	return nil
}

func (l *Layer) snapshot() LayerSnapshot {
	snap := LayerSnapshot{
		Layer:       l.cfg.Name,
		Zone:        l.cfg.Zone,
		Width:       l.grid.Width(),
		Height:      l.grid.Height(),
		OriginX:     l.grid.OriginX,
		OriginY:     l.grid.OriginY,
		Map:         l.grid.Lines(),
		Entities:    make([]LayerEntity, 0, len(l.entities)),
		Connections: l.connectionList(),
		Metadata:    copyProps(l.meta),
		LastTick:    l.lastTick,
		Dirty:       l.dirty,
	}
	for _, id := range l.sortedEntityIDs() {
		snap.Entities = append(snap.Entities, copyEntity(l.entities[id]))
	}
	return snap
}

func (l *Layer) docSnapshot() *store.LayerDoc {
	doc := &store.LayerDoc{
		Width:    l.grid.Width(),
		Height:   l.grid.Height(),
		Map:      l.grid.Lines(),
		OriginX:  l.grid.OriginX,
		OriginY:  l.grid.OriginY,
		Metadata: copyProps(l.meta),
	}
	for _, id := range l.sortedEntityIDs() {
		doc.Entities = append(doc.Entities, docFromEntity(l.entities[id]))
	}
	for i := range l.conns {
		doc.Connections = append(doc.Connections, docFromConn(&l.conns[i]))
	}
	return doc
}

func (l *Layer) sortedEntityIDs() []string {
	ids := make([]string, 0, len(l.entities))
	for id := range l.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func entityFromDoc(d *store.EntityDoc) LayerEntity {
	return LayerEntity{
		ID:         d.ID,
		Type:       d.Type,
		X:          d.X,
		Y:          d.Y,
		Properties: copyProps(d.Properties),
		Active:     d.IsActive(),
	}
}

func docFromEntity(e *LayerEntity) store.EntityDoc {
	active := e.Active
	return store.EntityDoc{
		ID:         e.ID,
		Type:       e.Type,
		X:          e.X,
		Y:          e.Y,
		Properties: copyProps(e.Properties),
		Active:     &active,
	}
}

func connFromDoc(zone string, fallback LayerName, d *store.ConnectionDoc) Connection {
	src := LayerName(d.SourceLayer)
	if d.SourceLayer == "" {
		src = fallback
	}
	return Connection{
		Type:        d.Type,
		Zone:        zone,
		SourceLayer: src,
		SourceX:     d.SourceX,
		SourceY:     d.SourceY,
		TargetLayer: LayerName(d.TargetLayer),
		TargetX:     d.TargetX,
		TargetY:     d.TargetY,
		Properties:  copyProps(d.Properties),
	}
}

func docFromConn(c *Connection) store.ConnectionDoc {
	return store.ConnectionDoc{
		Type:        c.Type,
		SourceLayer: string(c.SourceLayer),
		SourceX:     c.SourceX,
		SourceY:     c.SourceY,
		TargetLayer: string(c.TargetLayer),
		TargetX:     c.TargetX,
		TargetY:     c.TargetY,
		Properties:  copyProps(c.Properties),
	}
}

func copyEntity(e *LayerEntity) LayerEntity {
	cp := *e
	cp.Properties = copyProps(e.Properties)
	return cp
}

func copyProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LayerHandle is the typed facade over one layer actor ref.
type LayerHandle struct {
	ref *actor.Ref
}

// NewLayerHandle wraps a layer actor ref.
func NewLayerHandle(ref *actor.Ref) LayerHandle { return LayerHandle{ref: ref} }

// Ref returns the underlying actor ref.
func (h LayerHandle) Ref() *actor.Ref { return h.ref }

// Alive reports whether the layer actor still runs.
func (h LayerHandle) Alive() bool { return h.ref.Alive() }

// Map returns the full glyph map.
func (h LayerHandle) Map(ctx context.Context) ([]string, error) {
	v, err := h.ref.Ask(ctx, getMapMsg{})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// At returns the glyph at (x,y).
func (h LayerHandle) At(ctx context.Context, x, y int) (byte, error) {
	v, err := h.ref.Ask(ctx, atPosMsg{x: x, y: y})
	if err != nil {
		return 0, err
	}
	return v.(byte), nil
}

// SetAt replaces the glyph at (x,y).
func (h LayerHandle) SetAt(ctx context.Context, x, y int, ch byte) error {
	_, err := h.ref.Ask(ctx, setAtMsg{x: x, y: y, ch: ch})
	return err
}

// Region returns h rows of w glyphs, or nil when the rectangle leaves
// the map.
func (h LayerHandle) Region(ctx context.Context, x, y, w, ht int) ([]string, error) {
	v, err := h.ref.Ask(ctx, regionMsg{x: x, y: y, w: w, h: ht})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]string), nil
}

// EntitiesAt lists the entities sitting on (x,y).
func (h LayerHandle) EntitiesAt(ctx context.Context, x, y int) ([]LayerEntity, error) {
	v, err := h.ref.Ask(ctx, entitiesAtMsg{x: x, y: y})
	if err != nil {
		return nil, err
	}
	return v.([]LayerEntity), nil
}

// AddEntity places a new entity on the layer.
func (h LayerHandle) AddEntity(ctx context.Context, ent LayerEntity) error {
	_, err := h.ref.Ask(ctx, addEntityMsg{ent: ent})
	return err
}

// RemoveEntity deletes an entity by id.
func (h LayerHandle) RemoveEntity(ctx context.Context, id string) error {
	_, err := h.ref.Ask(ctx, removeEntityMsg{id: id})
	return err
}

// MoveEntity repositions an entity.
func (h LayerHandle) MoveEntity(ctx context.Context, id string, x, y int) error {
	_, err := h.ref.Ask(ctx, moveEntityMsg{id: id, x: x, y: y})
	return err
}

// Connections lists the layer's outgoing connections.
func (h LayerHandle) Connections(ctx context.Context) ([]Connection, error) {
	v, err := h.ref.Ask(ctx, connectionsMsg{})
	if err != nil {
		return nil, err
	}
	return v.([]Connection), nil
}

// AddConnection links a source point on this layer to a target point.
func (h LayerHandle) AddConnection(ctx context.Context, c Connection) error {
	_, err := h.ref.Ask(ctx, addConnMsg{conn: c})
	return err
}

// RemoveConnection drops the connection leaving (x,y).
func (h LayerHandle) RemoveConnection(ctx context.Context, x, y int) error {
	_, err := h.ref.Ask(ctx, removeConnMsg{x: x, y: y})
	return err
}

// Metadata returns a copy of the layer's metadata document.
func (h LayerHandle) Metadata(ctx context.Context) (map[string]any, error) {
	v, err := h.ref.Ask(ctx, metadataMsg{})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(map[string]any), nil
}

// ProcessWorldTick delivers a global tick without blocking; false
// means the mailbox was full and the tick was dropped.
func (h LayerHandle) ProcessWorldTick(t tick.Tick) bool {
	return h.ref.Tell(layerTickMsg{t: t})
}

// Save writes the layer document back through the source.
func (h LayerHandle) Save(ctx context.Context) error {
	_, err := h.ref.Ask(ctx, saveMsg{})
	return err
}

// Snapshot returns the layer's full state.
func (h LayerHandle) Snapshot(ctx context.Context) (LayerSnapshot, error) {
	v, err := h.ref.Ask(ctx, snapshotMsg{})
	if err != nil {
		return LayerSnapshot{}, err
	}
	return v.(LayerSnapshot), nil
}
